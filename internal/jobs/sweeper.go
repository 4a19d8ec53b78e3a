package jobs

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gmartinezc/sorteapp/internal/raffle"
)

// StartReservationSweeper runs the expired-reservation release on a fixed
// interval. The returned scheduler should be shut down when the server
// stops.
func StartReservationSweeper(svc *raffle.Service, interval time.Duration) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			released, err := svc.ReleaseExpiredReservations(time.Now())
			if err != nil {
				log.Printf("Reservation sweep failed: %s\n", err.Error())
				return
			}
			if released > 0 {
				log.Printf("Reservation sweep cancelled %d expired orders\n", released)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}

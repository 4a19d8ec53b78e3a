package notify

import (
	"log"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/models"
)

// Notifier persists a notification row and sends a best-effort email. It is
// only invoked after the transaction that produced the event commits, and
// every failure is logged and swallowed.
type Notifier struct {
	db   *gorm.DB
	mail *mail.Client
	from string
}

func NewNotifier(db *gorm.DB, mailClient *mail.Client, from string) *Notifier {
	return &Notifier{db: db, mail: mailClient, from: from}
}

func NewMailClient(host, username, password string) (*mail.Client, error) {
	return mail.NewClient(
		host,
		mail.WithPort(587),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(username),
		mail.WithPassword(password),
	)
}

func (n *Notifier) Notify(userID uuid.UUID, message, link string) {
	notification := models.Notification{
		UserID:  userID,
		Message: message,
		Link:    link,
	}
	if err := n.db.Create(&notification).Error; err != nil {
		log.Printf("Could not store notification for user %s: %s\n", userID, err.Error())
	}

	if n.mail == nil {
		return
	}
	go n.sendMail(userID, message)
}

func (n *Notifier) sendMail(userID uuid.UUID, message string) {
	var user models.User
	if err := n.db.Where("id = ?", userID).First(&user).Error; err != nil {
		log.Printf("Could not load user %s for email: %s\n", userID, err.Error())
		return
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		log.Printf("Invalid sender address %q: %s\n", n.from, err.Error())
		return
	}
	if err := msg.To(user.Email); err != nil {
		log.Printf("Invalid recipient address %q: %s\n", user.Email, err.Error())
		return
	}
	msg.Subject("Raffle update")
	msg.SetBodyString(mail.TypeTextPlain, message)

	if err := n.mail.DialAndSend(msg); err != nil {
		log.Printf("Could not send email to %s: %s\n", user.Email, err.Error())
	}
}

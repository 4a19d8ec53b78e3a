package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmartinezc/sorteapp/internal/helpers"
	"github.com/gmartinezc/sorteapp/internal/middleware"
	"github.com/gmartinezc/sorteapp/internal/models"
)

func CreateProduct(c *gin.Context) {
	name := c.PostForm("name")
	description := c.PostForm("description")

	price, err := parseFloatForm(c, "price_per_number")
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid price_per_number.")
		return
	}
	totalNumbers, err := helpers.StringToInt(c.PostForm("total_numbers"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid total_numbers.")
		return
	}
	if name == "" {
		helpers.RespondWithError(c, http.StatusBadRequest, "Missing required fields.")
		return
	}

	product := models.Product{
		ID:             uuid.New(),
		Name:           name,
		Description:    description,
		PricePerNumber: price,
		TotalNumbers:   totalNumbers,
		Status:         models.ProductUpcoming,
	}

	if minQtyStr := c.PostForm("discount_min_quantity"); minQtyStr != "" {
		minQty, err := helpers.StringToInt(minQtyStr)
		if err != nil {
			helpers.RespondWithError(c, http.StatusBadRequest, "Invalid discount_min_quantity.")
			return
		}
		percentage, err := parseFloatForm(c, "discount_percentage")
		if err != nil {
			helpers.RespondWithError(c, http.StatusBadRequest, "Invalid discount_percentage.")
			return
		}
		product.DiscountMinQuantity = &minQty
		product.DiscountPercentage = &percentage
	}

	bannerFile, err := c.FormFile("banner")
	if err == nil {
		bannerPath, err := helpers.UploadFile(c, bannerFile, "product_banners")
		if err != nil {
			helpers.RespondWithError(c, http.StatusBadRequest, err.Error())
			return
		}
		product.BannerPath = bannerPath
	}

	svc := middleware.GetRaffleService(c)
	if err := svc.CreateProduct(&product); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    "Product created successfully.",
		"product_id": product.ID,
	})
}

func ActivateProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid product ID.")
		return
	}

	svc := middleware.GetRaffleService(c)
	product, err := svc.ActivateProduct(productID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Product activated.",
		"product": product,
	})
}

func CancelProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid product ID.")
		return
	}

	svc := middleware.GetRaffleService(c)
	if err := svc.CancelProduct(productID); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Product cancelled and reservations released."})
}

func DrawProduct(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid product ID.")
		return
	}

	svc := middleware.GetRaffleService(c)
	result, err := svc.Draw(productID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "Winner drawn.",
		"winning_number": result.WinningNumber,
		"winner_user_id": result.WinnerUserID,
	})
}

func ListProducts(c *gin.Context) {
	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	query := gormDB.Model(&models.Product{}).Order("created_at desc")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving products.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": products, "count": len(products)})
}

func GetProduct(c *gin.Context) {
	productID := c.Param("id")

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	var product models.Product
	if err := gormDB.Where("id = ?", productID).First(&product).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Product not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving product.")
		return
	}

	var sold, reserved int64
	gormDB.Model(&models.RaffleNumber{}).
		Where("product_id = ? AND status = ?", product.ID, models.NumberSold).
		Count(&sold)
	gormDB.Model(&models.RaffleNumber{}).
		Where("product_id = ? AND status = ?", product.ID, models.NumberReserved).
		Count(&reserved)

	c.JSON(http.StatusOK, gin.H{
		"product": product,
		"numbers": gin.H{
			"total":     product.NumberCount(),
			"sold":      sold,
			"reserved":  reserved,
			"available": int64(product.NumberCount()) - sold - reserved,
		},
	})
}

func ListProductNumbers(c *gin.Context) {
	productID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid product ID.")
		return
	}

	db, exists := c.Get("db")
	if !exists {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Database connection not found.")
		return
	}
	gormDB := db.(*gorm.DB)

	var numbers []models.RaffleNumber
	query := gormDB.
		Select("value", "status").
		Where("product_id = ?", productID).
		Order("value")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&numbers).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving numbers.")
		return
	}

	type numberView struct {
		Value  int                 `json:"value"`
		Status models.NumberStatus `json:"status"`
	}
	views := make([]numberView, 0, len(numbers))
	for _, n := range numbers {
		views = append(views, numberView{Value: n.Value, Status: n.Status})
	}

	c.JSON(http.StatusOK, gin.H{"data": views, "count": len(views)})
}

func parseFloatForm(c *gin.Context, field string) (float64, error) {
	return helpers.StringToFloat(c.PostForm(field))
}

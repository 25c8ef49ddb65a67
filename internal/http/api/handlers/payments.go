package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pixfusion/pixfusion/internal/ledger"
	"github.com/pixfusion/pixfusion/internal/models"
	"github.com/pixfusion/pixfusion/internal/payment"
)

// PaymentHandler serves checkout redirects and the store webhook.
type PaymentHandler struct {
	db *gorm.DB
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(db *gorm.DB) *PaymentHandler {
	return &PaymentHandler{db: db}
}

// Checkout redirects the caller to the hosted checkout page for the
// requested credit pack.
func (h *PaymentHandler) Checkout(c *gin.Context) {
	units, errParse := strconv.ParseInt(c.Param("units"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid units"})
		return
	}
	product, ok := payment.ByUnits(units)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid units"})
		return
	}
	c.Redirect(http.StatusFound, product.URL)
}

// webhookPayload mirrors the order_created event body sent by the store.
type webhookPayload struct {
	Data struct {
		Attributes struct {
			UserEmail      string `json:"user_email"`
			Status         string `json:"status"`
			FirstOrderItem struct {
				ProductName string `json:"product_name"`
			} `json:"first_order_item"`
		} `json:"attributes"`
	} `json:"data"`
}

// Callback handles the store's order webhook. Orders that cannot be
// applied are acknowledged with 200 so the store stops retrying; every
// delivery is recorded as a payment event either way.
func (h *PaymentHandler) Callback(c *gin.Context) {
	raw, errRead := c.GetRawData()
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload webhookPayload
	if errUnmarshal := json.Unmarshal(raw, &payload); errUnmarshal != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	attrs := payload.Data.Attributes
	email := strings.ToLower(strings.TrimSpace(attrs.UserEmail))
	productName := attrs.FirstOrderItem.ProductName

	event := models.PaymentEvent{
		Email:       email,
		Status:      attrs.Status,
		ProductName: productName,
		Payload:     datatypes.JSON(raw),
	}

	if attrs.Status != "paid" {
		h.recordEvent(c, &event)
		c.JSON(http.StatusOK, gin.H{
			"message": "Callback received",
			"error":   "order is not paid, ignoring",
		})
		return
	}

	product, okProduct := payment.ByName(productName)
	if !okProduct {
		h.recordEvent(c, &event)
		c.JSON(http.StatusOK, gin.H{
			"message": "Callback received",
			"error":   "unknown product, ignoring",
		})
		return
	}

	// Stored emails predating lowercase normalization may carry mixed
	// case, so the match folds both sides.
	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).Where("LOWER(email) = ?", email).First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		h.recordEvent(c, &event)
		c.JSON(http.StatusOK, gin.H{
			"message": "Callback received",
			"error":   "no user matches the order email, ignoring",
		})
		return
	}
	if errFind != nil {
		log.WithError(errFind).Error("lookup user for payment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processing failed"})
		return
	}
	event.UserID = &user.ID
	event.Units = product.Units

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errCredit := ledger.Credit(c.Request.Context(), tx, user.ID, product.Units); errCredit != nil {
			return errCredit
		}
		return tx.Create(&event).Error
	})
	if errTx != nil {
		log.WithError(errTx).WithField("user_id", user.ID).Error("apply payment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Callback received",
		"credits": product.Units,
	})
}

func (h *PaymentHandler) recordEvent(c *gin.Context, event *models.PaymentEvent) {
	if errCreate := h.db.WithContext(c.Request.Context()).Create(event).Error; errCreate != nil {
		log.WithError(errCreate).Warn("record payment event failed")
	}
}

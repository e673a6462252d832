package handlers

import (
	"net/http"
	"strconv"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/andresuchdata/shopledger/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type CatalogHandler struct {
	catalog   *service.CatalogService
	analytics *service.AnalyticsService
}

func NewCatalogHandler(catalog *service.CatalogService, analytics *service.AnalyticsService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, analytics: analytics}
}

func (h *CatalogHandler) ListProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to fetch products")
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

// ImportProducts accepts a multipart "file" field holding CSV or XLSX.
func (h *CatalogHandler) ImportProducts(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	format, err := importer.FormatFromPath(header.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	defer f.Close()

	result, err := h.catalog.ImportProducts(c.Request.Context(), f, format, dryRun)
	if err != nil {
		if result == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("filename", header.Filename).Msg("product import aborted")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import aborted", "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CatalogHandler) ListBills(c *gin.Context) {
	bills, err := h.catalog.ListBills(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err, "failed to fetch bills")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bills": bills, "count": len(bills)})
}

func (h *CatalogHandler) GetBill(c *gin.Context) {
	detail, err := h.catalog.GetBill(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to fetch bill")
		return
	}
	c.JSON(http.StatusOK, detail)
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *CatalogHandler) UpdateBillStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	bill, err := h.catalog.UpdateBillStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err, "failed to update bill")
		return
	}
	c.JSON(http.StatusOK, bill)
}

func (h *CatalogHandler) DeleteBill(c *gin.Context) {
	cleared, err := h.catalog.DeleteBill(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to delete bill")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id"), "productsUnlinked": cleared})
}

func (h *CatalogHandler) VendorSummaries(c *gin.Context) {
	var filter domain.AnalyticsFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	summaries, err := h.analytics.VendorSummaries(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "failed to fetch vendor summaries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": summaries})
}

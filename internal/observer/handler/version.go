package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is the API version reported at the root path.
const Version = "0.0.2"

// VersionHandler handles GET /.
func VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "digaas", "version": Version})
}

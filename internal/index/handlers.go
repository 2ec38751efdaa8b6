package index

import (
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/modhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/modhost/internal/shared/errdefs"
)

// ContentType is sent with envelope downloads.
const ContentType = "application/x-chrome-extension"

// Handlers serves the index routes.
type Handlers struct {
	store      *Store
	deviceInfo string
	logger     *logging.Logger
}

// NewHandlers creates handlers that only answer requests under deviceInfo.
func NewHandlers(store *Store, deviceInfo string, logger *logging.Logger) *Handlers {
	return &Handlers{
		store:      store,
		deviceInfo: "/" + strings.Trim(deviceInfo, "/"),
		logger:     logging.OrNop(logger).Component("index"),
	}
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/packages", h.ListPackages)
	r.GET("/getModule/*path", h.GetModule)
	r.HEAD("/getModule/*path", h.GetModule)
	r.GET("/getVersions/*path", h.GetVersions)
}

// Health reports server status
func (h *Handlers) Health(c *gin.Context) {
	entries, err := h.store.List()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"packages": len(entries),
		"device":   h.deviceInfo,
	})
}

// ListPackages lists every published package with its version and digest.
func (h *Handlers) ListPackages(c *gin.Context) {
	entries, err := h.store.List()
	if err != nil {
		h.logger.Error("Listing packages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing packages failed"})
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"packages": entries})
}

// GetModule streams <name><ext> from the store.
func (h *Handlers) GetModule(c *gin.Context) {
	rest, ok := h.trimDevice(c.Param("path"))
	if !ok || strings.Contains(rest, "/") || !strings.HasSuffix(rest, h.store.ext) {
		c.JSON(http.StatusNotFound, gin.H{"error": "module not found"})
		return
	}
	name := strings.TrimSuffix(rest, h.store.ext)

	path, err := h.store.Path(name)
	if err == nil {
		_, err = h.store.Lookup(name)
	}
	if err != nil {
		status := http.StatusNotFound
		if !errdefs.Is(err, errdefs.NotFound) && !errdefs.Is(err, errdefs.InvalidArguments) {
			h.logger.Warn("Refusing unreadable package", zap.String("package", name), zap.Error(err))
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": "module not found"})
		return
	}

	h.logger.Debug("Serving package", zap.String("package", name), zap.String("client", c.ClientIP()))
	c.Header("Content-Type", ContentType)
	c.File(path)
}

type versionList struct {
	VersionList []*string `json:"versionList"`
}

// GetVersions answers with one version per requested name, in request
// order, using null for packages the store does not have.
func (h *Handlers) GetVersions(c *gin.Context) {
	rest, ok := h.trimDevice(c.Param("path"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}

	resp := versionList{VersionList: []*string{}}
	for _, name := range strings.Split(rest, "/") {
		if name == "" {
			continue
		}
		if v, found := h.store.Version(name); found {
			version := v
			resp.VersionList = append(resp.VersionList, &version)
		} else {
			resp.VersionList = append(resp.VersionList, nil)
		}
	}

	body, err := sonic.Marshal(resp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// trimDevice strips the device prefix from a wildcard path.
func (h *Handlers) trimDevice(p string) (string, bool) {
	p = "/" + strings.TrimPrefix(p, "/")
	if h.deviceInfo == "/" {
		return strings.TrimPrefix(p, "/"), true
	}
	if p != h.deviceInfo && !strings.HasPrefix(p, h.deviceInfo+"/") {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(p, h.deviceInfo), "/"), true
}

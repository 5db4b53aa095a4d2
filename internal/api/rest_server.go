package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxelnav/internal/app"
	"github.com/annel0/voxelnav/internal/cache"
	"github.com/annel0/voxelnav/internal/eventbus"
	"github.com/annel0/voxelnav/internal/logging"
	"github.com/annel0/voxelnav/internal/middleware"
	"github.com/annel0/voxelnav/internal/navigation"
	"github.com/annel0/voxelnav/internal/vec"
	"github.com/annel0/voxelnav/internal/voxelmap"
)

// maxScanBytes предел тела POST /api/scans
const maxScanBytes = 64 << 20

// RestServer REST API навигационного сервиса
type RestServer struct {
	router   *gin.Engine
	server   *http.Server
	service  *app.NavigationService
	port     string
	metrics  *ServerMetrics
	promMw   *middleware.PrometheusMiddleware
	cacheFn  func() *cache.CacheMetrics
	busFn    func() eventbus.Stats
	apiToken string
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port        string                 // адрес, например ":8088"
	ServiceName string                 // имя сервиса для otelgin
	Service     *app.NavigationService // обязательное поле
	// Registry nil: дефолтный регистр Prometheus
	Registry *prometheus.Registry
	// APIToken если задан, изменяющие запросы требуют "Authorization: Bearer <token>"
	APIToken     string
	CacheMetrics func() *cache.CacheMetrics
	BusStats     func() eventbus.Stats
	// ExposeMetrics добавляет /metrics на этот же порт
	ExposeMetrics bool
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.ServiceName == "" {
		config.ServiceName = "voxelnav"
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))
	router.Use(middleware.NewRequestLogger("/health", "/metrics").Handler())

	promMw := middleware.NewPrometheusMiddleware("voxelnav_rest", config.Registry)
	router.Use(promMw.Handler())

	rs := &RestServer{
		router:   router,
		service:  config.Service,
		port:     config.Port,
		metrics:  NewServerMetrics(),
		promMw:   promMw,
		cacheFn:  config.CacheMetrics,
		busFn:    config.BusStats,
		apiToken: config.APIToken,
	}
	rs.server = &http.Server{
		Addr:              config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if config.ExposeMetrics {
		promMw.RegisterMetricsEndpoint(router)
	}
	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")
	{
		api.GET("/map", rs.handleMap)
		api.GET("/surface", rs.handleSurface)
		api.GET("/stats", rs.handleStats)
	}

	// Изменяющие и тяжёлые запросы
	write := api.Group("/")
	write.Use(rs.tokenMiddleware())
	{
		write.POST("/scans", rs.handleIngest)
		write.POST("/paths", rs.handlePlan)
		write.POST("/surface/sample", rs.handleSample)
	}

	rs.router.GET("/health", rs.handleHealth)
}

// Router возвращает gin.Engine (используется в тестах)
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// MetricsHandler отдаёт метрики для отдельного порта Prometheus
func (rs *RestServer) MetricsHandler() http.Handler {
	return rs.promMw.MetricsHandler()
}

// tokenMiddleware проверяет статический токен в заголовке Authorization
func (rs *RestServer) tokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rs.apiToken == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+rs.apiToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Недействительный токен",
			})
			return
		}
		c.Next()
	}
}

// statusFor переводит ошибку сервиса в HTTP-статус
func statusFor(err error) int {
	var cfgErr *voxelmap.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNoMap):
		return http.StatusNotFound
	case errors.Is(err, app.ErrStaleRevision):
		return http.StatusConflict
	case errors.Is(err, navigation.ErrSearchBudgetExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) fail(c *gin.Context, err error, data interface{}) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: err.Error(), Data: data})
}

// handleIngest POST /api/scans?source=, тело запроса содержит JSON скана
func (rs *RestServer) handleIngest(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxScanBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, GenericResponse{Success: false, Message: "Скан слишком большой"})
		return
	}
	source := c.Query("source")
	if _, err := rs.service.Ingest(c.Request.Context(), source, body); err != nil {
		rs.fail(c, err, nil)
		return
	}
	info, err := rs.service.Info()
	if err != nil {
		rs.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Скан принят", Data: info})
}

// handleMap GET /api/map
func (rs *RestServer) handleMap(c *gin.Context) {
	info, err := rs.service.Info()
	if err != nil {
		rs.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Текущая карта", Data: info})
}

// SurfaceResponse ответ GET /api/surface
type SurfaceResponse struct {
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Found  bool    `json:"found"`
	Height float64 `json:"height,omitempty"`
}

// handleSurface GET /api/surface?x=&z=&radius=
func (rs *RestServer) handleSurface(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	z, errZ := strconv.ParseFloat(c.Query("z"), 64)
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Параметры x и z обязательны"})
		return
	}

	var (
		h   float64
		ok  bool
		err error
	)
	if r := c.Query("radius"); r != "" {
		radius, perr := strconv.Atoi(r)
		if perr != nil || radius < 0 {
			c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "radius должен быть целым >= 0"})
			return
		}
		h, ok, err = rs.service.SurfaceHeightWithin(x, z, radius)
	} else {
		h, ok, err = rs.service.SurfaceHeight(x, z)
	}
	if err != nil {
		rs.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Высота поверхности",
		Data:    SurfaceResponse{X: x, Z: z, Found: ok, Height: h},
	})
}

// SampleRequest тело POST /api/surface/sample
type SampleRequest struct {
	Start    vec.Vec3Float `json:"start"`
	Dir      vec.Vec3Float `json:"dir"`
	Distance float64       `json:"distance"`
	Step     float64       `json:"step"`
}

// handleSample POST /api/surface/sample
func (rs *RestServer) handleSample(c *gin.Context) {
	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса"})
		return
	}
	sample, err := rs.service.SampleSurface(req.Start, req.Dir, req.Distance, req.Step)
	if err != nil {
		rs.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Профиль поверхности", Data: sample})
}

// handlePlan POST /api/paths
func (rs *RestServer) handlePlan(c *gin.Context) {
	var req app.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: "Неверный формат запроса"})
		return
	}
	res, err := rs.service.Plan(c.Request.Context(), req)
	if err != nil {
		rs.fail(c, err, res)
		return
	}
	msg := "Путь найден"
	if !res.Found {
		msg = "Путь не найден"
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: msg, Data: res})
}

// handleStats GET /api/stats
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"server": rs.metrics.Snapshot(),
	}
	if info, err := rs.service.Info(); err == nil {
		stats["map"] = gin.H{
			"source":     info.Source,
			"rev":        info.Revision,
			"occupied":   info.Occupied,
			"dropped":    info.Stats.Dropped(),
			"inflations": info.Inflations,
		}
	}
	if rs.cacheFn != nil {
		stats["cache"] = rs.cacheFn()
	}
	if rs.busFn != nil {
		stats["eventbus"] = rs.busFn()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	_, err := rs.service.Current()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"map":    err == nil,
		"time":   time.Now().Unix(),
	})
}

// Start запускает REST сервер; блокируется до Stop
func (rs *RestServer) Start() error {
	logging.GetServerLogger().Info("🌐 REST API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно завершает сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.server.Shutdown(ctx)
}

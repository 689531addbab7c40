// Package gateway emulates the TOP router for local development and tests.
// It checks the app key and signature of every call and answers registered
// methods with canned or computed results.
package gateway

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/birbparty/taobao-top/internal/telemetry"
	"github.com/birbparty/taobao-top/sdk"
)

// routerPath is where the TOP router listens
const routerPath = "/router/rest"

// Request is a verified call as seen by a Handler
type Request struct {
	Method string
	Fields map[string]string
	// Files holds uploaded file sizes by field name
	Files map[string]int64
}

// Handler answers one remote method. The returned value is rendered as the
// method's response section.
type Handler func(ctx context.Context, req *Request) (interface{}, *Error)

// Config configures the gateway
type Config struct {
	// Apps maps app keys to secrets
	Apps map[string]string
	// Latency is added to every routed call
	Latency time.Duration
	// Registry receives the gateway metrics and is served on /metrics.
	// If nil, a private registry is used.
	Registry *prometheus.Registry
	// Logger for request logs. If nil, nothing is logged.
	Logger logrus.FieldLogger
}

// Server is the emulated gateway
type Server struct {
	app     *fiber.App
	config  Config
	now     func() time.Time
	calls   *prometheus.CounterVec
	mu      sync.RWMutex
	methods map[string]Handler
}

// New creates a gateway serving taobao.time.get
func New(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		cfg.Logger = log
	}

	s := &Server{
		config:  cfg,
		now:     time.Now,
		methods: make(map[string]Handler),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "top_gateway_calls_total",
			Help: "Calls routed by the gateway by method and error code",
		}, []string{"method", "code"}),
	}
	cfg.Registry.MustRegister(s.calls)

	s.app = fiber.New(fiber.Config{
		AppName:               "TOP gateway emulator",
		ErrorHandler:          fiber.DefaultErrorHandler,
		BodyLimit:             32 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	httpMetrics := telemetry.NewHTTPMetrics(cfg.Registry)
	s.app.Use(recover.New())
	s.app.Use(httpMetrics.Middleware(otel.Tracer("github.com/birbparty/taobao-top/internal/gateway")))
	s.app.Use(telemetry.FiberLoggingMiddleware(cfg.Logger))

	s.app.All(routerPath, s.route)
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))

	s.Handle("taobao.time.get", s.timeGet)
	return s
}

// Handle registers h for the qualified method name
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = h
}

// HandleStatic answers method with a fixed result
func (s *Server) HandleStatic(method string, result interface{}) {
	s.Handle(method, func(context.Context, *Request) (interface{}, *Error) {
		return result, nil
	})
}

// App returns the fiber app, mainly for app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops the server, waiting for in-flight calls until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) timeGet(ctx context.Context, req *Request) (interface{}, *Error) {
	return fiber.Map{"time": s.now().Format(sdk.TimestampLayout)}, nil
}

func (s *Server) route(c *fiber.Ctx) error {
	req, err := parseRequest(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if s.config.Latency > 0 {
		time.Sleep(s.config.Latency)
	}

	result, apiErr := s.dispatch(c.UserContext(), req)
	if apiErr != nil {
		s.calls.WithLabelValues(req.Method, strconv.Itoa(apiErr.Code)).Inc()
		return c.JSON(fiber.Map{"error_response": errorBody(apiErr)})
	}

	s.calls.WithLabelValues(req.Method, "0").Inc()
	return c.JSON(fiber.Map{sdk.ResponseKey(req.Method): result})
}

// dispatch verifies the caller in the order the router does: app key,
// signature, then method.
func (s *Server) dispatch(ctx context.Context, req *Request) (interface{}, *Error) {
	secret, ok := s.config.Apps[req.Fields[sdk.FieldAppKey]]
	if !ok {
		return nil, errInvalidAppKey
	}
	if !sdk.SignMethod(req.Fields[sdk.FieldSignMethod]).Valid() || !sdk.Verify(secret, req.Fields) {
		return nil, errInvalidSignature
	}

	s.mu.RLock()
	h, ok := s.methods[req.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, errInvalidMethod
	}
	return h(ctx, req)
}

func errorBody(e *Error) fiber.Map {
	body := fiber.Map{
		"code":       e.Code,
		"msg":        e.Msg,
		"request_id": strings.ReplaceAll(uuid.NewString(), "-", "")[:13],
	}
	if e.SubCode != "" {
		body["sub_code"] = e.SubCode
	}
	if e.SubMsg != "" {
		body["sub_msg"] = e.SubMsg
	}
	return body
}

// parseRequest merges query, form and multipart fields. Query values lose
// to body values of the same name.
func parseRequest(c *fiber.Ctx) (*Request, error) {
	req := &Request{Fields: make(map[string]string), Files: make(map[string]int64)}

	c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		req.Fields[string(k)] = string(v)
	})

	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, err
		}
		for k, v := range form.Value {
			if len(v) > 0 {
				req.Fields[k] = v[0]
			}
		}
		for k, files := range form.File {
			if len(files) > 0 {
				req.Files[k] = files[0].Size
			}
		}
	} else {
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			req.Fields[string(k)] = string(v)
		})
	}

	req.Method = req.Fields[sdk.FieldMethod]
	return req, nil
}

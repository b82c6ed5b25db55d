package handler

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"go.uber.org/zap"
)

// ComponentRoutes resolves the component that owns a request path
type ComponentRoutes interface {
	GetByRoute(path string) (*model.ComponentRegistration, bool)
}

// GatewayHandler forwards host traffic to the upstream of the component that
// owns the route. Components without an upstream get a small JSON
// acknowledgement so the route still counts as served.
type GatewayHandler struct {
	routes       ComponentRoutes
	errorHandler *apperrors.Handler
	logger       *zap.Logger

	mu      sync.Mutex
	proxies map[string]*httputil.ReverseProxy
}

// NewGatewayHandler creates a gateway handler
func NewGatewayHandler(routes ComponentRoutes, errorHandler *apperrors.Handler, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		routes:       routes,
		errorHandler: errorHandler,
		logger:       logger,
		proxies:      make(map[string]*httputil.ReverseProxy),
	}
}

// ServeHTTP implements http.Handler
func (g *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reg, ok := g.routes.GetByRoute(r.URL.Path)
	if !ok {
		g.errorHandler.HandleError(w, r, apperrors.UnknownComponent(r.URL.Path))
		return
	}

	if reg.Upstream == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"component":%q,"loaded":%t}`+"\n", reg.Name, reg.Loaded)
		return
	}

	proxy, err := g.proxyFor(reg.Upstream)
	if err != nil {
		g.errorHandler.HandleError(w, r, apperrors.InternalError("invalid upstream", err))
		return
	}
	proxy.ServeHTTP(w, r)
}

func (g *GatewayHandler) proxyFor(upstream string) (*httputil.ReverseProxy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.proxies[upstream]; ok {
		return p, nil
	}

	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream %q: %w", upstream, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream %q must be an absolute URL", upstream)
	}

	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("Upstream request failed",
			zap.String("upstream", upstream),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		g.errorHandler.HandleError(w, r, apperrors.Unavailable("upstream unavailable", err))
	}
	g.proxies[upstream] = p
	return p, nil
}

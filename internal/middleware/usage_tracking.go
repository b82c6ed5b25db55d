package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/gomo-hub/startup-optimizer/internal/errors"
	"github.com/gomo-hub/startup-optimizer/internal/model"
	"go.uber.org/zap"
)

const defaultCallerID = "system"

// RouteResolver maps a request path to the component serving it
type RouteResolver interface {
	GetByRoute(path string) (*model.ComponentRegistration, bool)
}

// RouteLoader loads the component behind a route on demand
type RouteLoader interface {
	EnsureLoadedForRoute(ctx context.Context, path string) bool
}

// AccessTracker records component accesses
type AccessTracker interface {
	Track(component, route string, loadTimeMs int64, callerID string)
}

// UsageTracking loads the component owning the route before the request is
// served and records the access afterwards. Paths no component claims pass
// through untouched.
func UsageTracking(resolver RouteResolver, loader RouteLoader, tracker AccessTracker, logger *zap.Logger) func(http.Handler) http.Handler {
	errHandler := apperrors.NewHandler(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reg, ok := resolver.GetByRoute(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			callerID := CallerID(r)
			ctx := context.WithValue(r.Context(), CallerIDKey, callerID)

			// tracked even when loading fails; the component was still requested
			defer func() {
				tracker.Track(reg.Name, r.URL.Path, time.Since(start).Milliseconds(), callerID)
			}()

			if !loader.EnsureLoadedForRoute(ctx, r.URL.Path) {
				logger.Warn("Component not ready for route",
					zap.String("component", reg.Name),
					zap.String("path", r.URL.Path))
				errHandler.HandleError(w, r, apperrors.Unavailable(fmt.Sprintf("component %s is not ready", reg.Name), nil))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID returns the tenant of a request from X-Org-ID, "system" when absent
func CallerID(r *http.Request) string {
	if id := r.Header.Get(HeaderOrgID); id != "" {
		return id
	}
	return defaultCallerID
}

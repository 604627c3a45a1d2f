package agbac

import (
	"net/http"
	"strings"
)

// CorrelationHeader carries the audit correlation ID back to the caller so
// a rejected request can be matched to its audit record.
const CorrelationHeader = "X-Agbac-Correlation-Id"

// Middleware wraps an http.Handler with delegation-token enforcement. The
// bearer token is read from the Authorization header; the HTTP method maps
// to the action and the URL path to the resource. Denied requests receive a
// 403 carrying only the correlation ID; the specific denial reason stays
// in the audit trail, never on the wire.
func (p *PEP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		resource := strings.TrimPrefix(r.URL.Path, "/")
		if resource == "" {
			// The root path is still a resource.
			resource = "/"
		}

		verdict, err := p.Evaluate(r.Context(), Request{
			RawToken:      raw,
			Action:        httpMethodToAction(r.Method),
			Resource:      resource,
			CorrelationID: r.Header.Get(CorrelationHeader),
		})
		if err != nil {
			p.logger.Error("evaluation error", "error", err)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set(CorrelationHeader, verdict.CorrelationID)
		if !verdict.Allowed() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

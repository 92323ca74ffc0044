package server

import (
	"net/http"

	"github.com/todddickerson/overskill-sub011/internal/packager"
)

// NewMux mounts the API. allowedOrigins configures CORS; "*" allows any
// origin.
func NewMux(api *API, events http.Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", api.health)
	mux.Handle("POST /apps/{id}/builds", validApp(http.HandlerFunc(api.startBuild)))
	mux.Handle("POST /apps/{id}/deployments", validApp(http.HandlerFunc(api.startDeploy)))
	mux.Handle("DELETE /apps/{id}/deployments", validApp(http.HandlerFunc(api.teardown)))
	mux.Handle("GET /apps/{id}/operation", validApp(http.HandlerFunc(api.operation)))
	mux.Handle("DELETE /apps/{id}/operation", validApp(http.HandlerFunc(api.stop)))
	mux.Handle("POST /apps/{id}/files", validApp(http.HandlerFunc(api.putFile)))
	if events != nil {
		mux.Handle("GET /apps/{id}/events", validApp(events))
	}

	return cors(allowedOrigins, mux)
}

// AppID extracts the {id} path value for handlers mounted on NewMux.
func AppID(r *http.Request) string {
	return r.PathValue("id")
}

// validApp rejects requests whose {id} is not a valid app id.
func validApp(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := packager.ValidateAppID(AppID(r)); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

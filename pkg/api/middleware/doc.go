// Package middleware holds the HTTP middleware of the admin surface. Every
// middleware has the shape func(http.Handler) http.Handler and chains
// outermost first:
//
//	handler := middleware.PanicRecovery(logger)(mux)
//	handler = middleware.Metrics(recorder, route)(handler)
//	handler = middleware.Logging(logger)(handler)
//	handler = middleware.RequestID()(handler)
package middleware

package reconciler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxPayloadBytes bounds webhook bodies well above any real provider event.
const maxPayloadBytes = 1 << 20

// WebhookHandler adapts ProcessWebhook to the provider's delivery contract:
// 200 acknowledges, 400 rejects untrusted deliveries without detail, and 5xx
// asks the provider to redeliver after a transient failure.
func (rec *Reconciler) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		err = rec.ProcessWebhook(r.Context(), payload, r.Header.Get(SignatureHeader))

		var signatureErr *SignatureError
		switch {
		case errors.As(err, &signatureErr):
			http.Error(w, "invalid request", http.StatusBadRequest)
		case err != nil:
			rec.logger.Error("webhook processing failed", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

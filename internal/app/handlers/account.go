package handlers

import (
	"log/slog"
	"net/http"

	"github.com/linemk/resale-orders/internal/service"
)

// AccountStatementHandler обрабатывает GET /api/account: балансы и зачисления текущего пользователя.
func AccountStatementHandler(log *slog.Logger, accounts service.AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AccountStatementHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := actor(w, r, logger)
		if !ok {
			return
		}

		st, err := accounts.Statement(r.Context(), userID)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, st)
	}
}

package matrix

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix/event"

	"slackmatrix/internal/metrics"
)

// EventSink accepts one Matrix event for processing. Returning an
// error means the event could not be durably accepted and the whole
// transaction must be retried by the homeserver.
type EventSink func(ctx context.Context, evt *event.Event) error

// TxnStore records processed transaction IDs.
type TxnStore interface {
	MarkTransactionProcessed(ctx context.Context, txnID string) (bool, error)
}

// Appservice is the homeserver-facing intake: it authenticates
// transaction pushes, deduplicates them by transaction ID and hands
// the events to the sink in the order received. Cross-transaction
// ordering is not guaranteed upstream; per-room ordering is enforced
// downstream.
type Appservice struct {
	hsToken  string
	store    TxnStore
	sink     EventSink
	logger   *logrus.Logger
	registry *metrics.Registry
}

func NewAppservice(hsToken string, store TxnStore, sink EventSink, registry *metrics.Registry, logger *logrus.Logger) *Appservice {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Appservice{
		hsToken:  hsToken,
		store:    store,
		sink:     sink,
		logger:   logger,
		registry: registry,
	}
}

// RegisterRoutes mounts the appservice API on r.
func (a *Appservice) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/_matrix/app/v1/transactions/{txnId}", a.handleTransaction).Methods(http.MethodPut)
	// Legacy path some homeservers still use.
	r.HandleFunc("/transactions/{txnId}", a.handleTransaction).Methods(http.MethodPut)
}

type transactionBody struct {
	Events []*event.Event `json:"events"`
}

func (a *Appservice) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		writeJSONError(w, http.StatusForbidden, "M_FORBIDDEN", "incorrect hs_token")
		return
	}

	txnID := mux.Vars(r)["txnId"]
	ctx := r.Context()

	var body transactionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "M_NOT_JSON", "undecodable transaction body")
		return
	}

	// Claiming the ID first makes redelivery a no-op: the homeserver
	// redelivers on timeout, and a redelivered transaction must not
	// produce additional outbound work.
	alreadySeen, err := a.store.MarkTransactionProcessed(ctx, txnID)
	if err != nil {
		a.logger.WithError(err).WithField("txn_id", txnID).Error("Transaction store unavailable")
		writeJSONError(w, http.StatusInternalServerError, "M_UNKNOWN", "store unavailable")
		return
	}
	if alreadySeen {
		a.registry.IncrementCounter(metrics.TransactionsDeduplicated, nil)
		a.logger.WithField("txn_id", txnID).Debug("Ignoring redelivered transaction")
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}

	for _, evt := range body.Events {
		if evt == nil {
			continue
		}
		if err := a.sink(ctx, evt); err != nil {
			// The transaction is already claimed; losing events here
			// would be silent. Log loudly and keep going, the delivery
			// ledger is the per-event safety net.
			a.logger.WithError(err).WithFields(logrus.Fields{
				"txn_id":   txnID,
				"event_id": evt.ID,
			}).Error("Failed to accept event from transaction")
		}
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *Appservice) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	return token != "" && token == a.hsToken
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"errcode": code, "error": message})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ajibolagenius/corpsmart/internal/auth"
	"github.com/ajibolagenius/corpsmart/internal/db"
	"github.com/ajibolagenius/corpsmart/internal/market"
	"github.com/ajibolagenius/corpsmart/internal/models"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Market      *market.Market
	AuthService *auth.AuthService
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, m *market.Market, authService *auth.AuthService) *Handler {
	return &Handler{DB: database, Market: m, AuthService: authService}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCoreError maps the core's error taxonomy onto HTTP statuses. Every
// rejected action surfaces its specific reason to the caller.
func writeCoreError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, market.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrForbidden), errors.Is(err, market.ErrInvalidActor):
		status = http.StatusForbidden
	case errors.Is(err, market.ErrInvalidTransition),
		errors.Is(err, market.ErrStaleOfferState),
		errors.Is(err, market.ErrListingUnavailable),
		errors.Is(err, market.ErrAlreadyTerminal):
		status = http.StatusConflict
	}
	writeError(w, status, err.Error())
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName  string `json:"display_name"`
		Email        string `json:"email"`
		Password     string `json:"password"`
		State        string `json:"state"`
		Batch        string `json:"batch"`
		CallUpNumber string `json:"call_up_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.AuthService.Register(r.Context(), auth.RegisterInput{
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		Password:     req.Password,
		State:        req.State,
		Batch:        req.Batch,
		CallUpNumber: req.CallUpNumber,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies session tokens and resolves the acting user.
// There is no implicit current user: every handler reads the actor from the
// request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		if _, err := h.Market.Resolve(userID); err != nil {
			writeError(w, http.StatusUnauthorized, "Unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value("user_id").(string)
	return id, ok
}

// CreateListing creates a new active listing owned by the caller
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Price       int64  `json:"price"`
		Condition   string `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	listing, err := h.Market.CreateListing(r.Context(), sellerID, market.ListingInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Condition:   req.Condition,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateListing(r.Context(), &listing); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save listing")
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// GetListings returns listings, filtered by status when given
func (h *Handler) GetListings(w http.ResponseWriter, r *http.Request) {
	status := models.ListingStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, h.Market.Listings(status))
}

// GetListing returns one listing with its current status
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.Market.GetListing(chi.URLParam(r, "id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// WithdrawListing takes the caller's listing off the market
func (h *Handler) WithdrawListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	listing, err := h.Market.WithdrawListing(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.UpdateListingStatus(r.Context(), listing.ID, listing.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save listing status")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// RemoveListing is the admin moderation action
func (h *Handler) RemoveListing(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	listing, err := h.Market.RemoveListing(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.UpdateListingStatus(r.Context(), listing.ID, listing.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save listing status")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// MarkSold records a direct sale by the seller
func (h *Handler) MarkSold(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txn, err := h.Market.MarkSold(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateTransaction(r.Context(), &txn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction")
		return
	}
	if err := h.DB.UpdateListingStatus(r.Context(), txn.ListingID, models.ListingSold); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save listing status")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// BuyNow opens settlement at the asking price
func (h *Handler) BuyNow(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.Market.BuyNow(r.Context(), chi.URLParam(r, "id"), buyerID, models.PaymentMethod(req.Method))
	if err != nil {
		writeCoreError(w, err)
		return
	}

	conv, err := h.Market.GetConversation(txn.ConversationID, buyerID)
	if err == nil {
		if err := h.DB.CreateConversation(r.Context(), &conv); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save conversation")
			return
		}
	}
	if err := h.DB.CreateTransaction(r.Context(), &txn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction")
		return
	}
	if err := h.syncListingStatus(r.Context(), txn.ListingID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save listing status")
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// StartConversation returns the caller's conversation for a listing,
// creating it on first contact
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		ListingID string `json:"listing_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conv, err := h.Market.GetOrCreateConversation(r.Context(), req.ListingID, buyerID)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateConversation(r.Context(), &conv); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// GetConversations lists the caller's conversations
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, h.Market.ConversationsForUser(userID))
}

// GetMessages returns conversation history after the cursor
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var cursor int64
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cursor")
			return
		}
		cursor = parsed
	}

	msgs, err := h.Market.History(chi.URLParam(r, "id"), userID, cursor)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// SendMessage appends a text or image message to a conversation
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Kind string   `json:"kind"`
		Body string   `json:"body"`
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = string(models.MessageText)
	}

	convID := chi.URLParam(r, "id")
	msg, err := h.Market.AppendMessage(r.Context(), convID, senderID, market.MessageContent{
		Kind: models.MessageKind(req.Kind),
		Body: req.Body,
		URLs: req.URLs,
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateMessage(r.Context(), convID, &msg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save message")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead advances the caller's read watermark
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		UptoSeq int64 `json:"upto_seq"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	convID := chi.URLParam(r, "id")
	if err := h.Market.MarkRead(convID, userID, req.UptoSeq); err != nil {
		writeCoreError(w, err)
		return
	}
	if err := h.DB.UpsertReadMark(r.Context(), convID, userID, req.UptoSeq); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save read mark")
		return
	}

	unread, err := h.Market.UnreadCount(convID, userID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": unread})
}

// ProposeOffer creates a live offer in a conversation
func (h *Handler) ProposeOffer(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.Market.ProposeOffer(r.Context(), chi.URLParam(r, "id"), by, req.Amount)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateOffer(r.Context(), &offer); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save offer")
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// CounterOffer answers a proposed offer with a new amount
func (h *Handler) CounterOffer(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.Market.CounterOffer(r.Context(), chi.URLParam(r, "id"), by, req.Amount)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateOffer(r.Context(), &offer); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save offer")
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// AcceptOffer resolves a live offer and opens settlement
func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	offer, txn, err := h.Market.AcceptOffer(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.RecordAcceptedOffer(r.Context(), &offer, &txn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save acceptance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"offer": offer, "transaction": txn})
}

// RejectOffer resolves a live offer as rejected
func (h *Handler) RejectOffer(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	offer, err := h.Market.RejectOffer(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.UpdateOffer(r.Context(), &offer); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save offer")
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// WithdrawOffer lets the proposer pull a live offer back
func (h *Handler) WithdrawOffer(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	offer, err := h.Market.WithdrawOffer(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.UpdateOffer(r.Context(), &offer); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save offer")
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// GetOffer returns one offer
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	offer, err := h.Market.GetOffer(chi.URLParam(r, "id"), userID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// SelectPaymentMethod records the buyer's payment method
func (h *Handler) SelectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.Market.SelectPaymentMethod(r.Context(), chi.URLParam(r, "id"), by, models.PaymentMethod(req.Method))
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.syncTransaction(r.Context(), &txn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// ConfirmPayment completes settlement and finalizes the listing
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txn, err := h.Market.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.syncTransaction(r.Context(), &txn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// CancelTransaction cancels settlement and releases the listing
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	by, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txn, err := h.Market.CancelTransaction(r.Context(), chi.URLParam(r, "id"), by)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.syncTransaction(r.Context(), &txn); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save transaction")
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// GetTransaction returns one transaction's status
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txn, err := h.Market.GetTransaction(chi.URLParam(r, "id"), userID)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// VerifyUser is the admin action that marks a member verified
func (h *Handler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.Market.VerifyUser(chi.URLParam(r, "id"), actor)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.SetUserVerified(r.Context(), user.ID, true); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SubmitReport files a member's complaint about a listing or another user
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	reporterID, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		ListingID string `json:"listing_id"`
		UserID    string `json:"user_id"`
		Reason    string `json:"reason"`
		Details   string `json:"details"`
		Priority  string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.Market.SubmitReport(r.Context(), reporterID, market.ReportInput{
		ListingID: req.ListingID,
		UserID:    req.UserID,
		Reason:    req.Reason,
		Details:   req.Details,
		Priority:  models.ReportPriority(req.Priority),
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.CreateReport(r.Context(), &report); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save report")
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

// GetReports lists the moderation queue for an admin
func (h *Handler) GetReports(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	status := models.ReportStatus(r.URL.Query().Get("status"))
	reports, err := h.Market.Reports(r.Context(), actor, status)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// ReviewReport moves a report to investigating, resolved or dismissed
func (h *Handler) ReviewReport(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.Market.ReviewReport(r.Context(), chi.URLParam(r, "id"), actor, models.ReportStatus(req.Status))
	if err != nil {
		writeCoreError(w, err)
		return
	}

	if err := h.DB.UpdateReport(r.Context(), &report); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// syncTransaction persists a transaction update together with the listing
// status it implies (reserved, sold or released back to active).
func (h *Handler) syncTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := h.DB.UpdateTransaction(ctx, txn); err != nil {
		return err
	}
	return h.syncListingStatus(ctx, txn.ListingID)
}

func (h *Handler) syncListingStatus(ctx context.Context, listingID string) error {
	listing, err := h.Market.GetListing(listingID)
	if err != nil {
		return err
	}
	return h.DB.UpdateListingStatus(ctx, listingID, listing.Status)
}

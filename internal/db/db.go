package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ajibolagenius/corpsmart/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool. It is the durable record behind
// the in-memory core: every state change the core accepts is written
// through here, and the core is hydrated from here at startup.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO users (id, display_name, email, password_hash, verified, role, state, batch, call_up_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.DisplayName, u.Email, u.PasswordHash, u.Verified, u.Role, u.State, u.Batch, u.CallUpNumber, u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		`SELECT id, display_name, email, password_hash, verified, role, state, batch, call_up_number, created_at
		 FROM users WHERE email = $1`,
		email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Verified,
		&user.Role, &user.State, &user.Batch, &user.CallUpNumber, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SetUserVerified updates a user's verification flag
func (db *DB) SetUserVerified(ctx context.Context, userID string, verified bool) error {
	_, err := db.Pool.Exec(ctx, "UPDATE users SET verified = $1 WHERE id = $2", verified, userID)
	if err != nil {
		return fmt.Errorf("failed to update user verification: %w", err)
	}
	return nil
}

// GetAllUsers retrieves all users for startup hydration
func (db *DB) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, display_name, email, password_hash, verified, role, state, batch, call_up_number, created_at FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Verified,
			&u.Role, &u.State, &u.Batch, &u.CallUpNumber, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateListing inserts a new listing
func (db *DB) CreateListing(ctx context.Context, l *models.Listing) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO listings (id, seller_id, title, description, category, price, condition, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.SellerID, l.Title, l.Description, l.Category, l.Price, l.Condition, l.Status, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// UpdateListingStatus updates a listing's status
func (db *DB) UpdateListingStatus(ctx context.Context, listingID string, status models.ListingStatus) error {
	_, err := db.Pool.Exec(ctx, "UPDATE listings SET status = $1 WHERE id = $2", status, listingID)
	if err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}
	return nil
}

// GetAllListings retrieves all listings for startup hydration
func (db *DB) GetAllListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, seller_id, title, description, category, price, condition, status, created_at FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		var l models.Listing
		if err := rows.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Category,
			&l.Price, &l.Condition, &l.Status, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// CreateConversation inserts a new conversation
func (db *DB) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO conversations (id, listing_id, buyer_id, seller_id, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (listing_id, buyer_id) DO NOTHING`,
		c.ID, c.ListingID, c.BuyerID, c.SellerID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetAllConversations retrieves all conversations for startup hydration
func (db *DB) GetAllConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, listing_id, buyer_id, seller_id, created_at FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.ListingID, &c.BuyerID, &c.SellerID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// CreateMessage inserts a message. Re-inserting the same message is a
// no-op so the write-behind recorder can repeat a failed batch.
func (db *DB) CreateMessage(ctx context.Context, conversationID string, m *models.Message) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, kind, seq, sender_id, body, urls, offer_id, notice, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT (id) DO NOTHING`,
		m.ID, conversationID, m.Kind, m.Seq, m.SenderID, m.Body, m.URLs, m.OfferID, m.Notice, m.SentAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetConversationMessages retrieves a conversation's messages in sequence order
func (db *DB) GetConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, kind, seq, sender_id, body, urls, offer_id, notice, sent_at
		 FROM messages WHERE conversation_id = $1 ORDER BY seq ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Kind, &m.Seq, &m.SenderID, &m.Body, &m.URLs,
			&m.OfferID, &m.Notice, &m.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpsertReadMark stores a per-user read watermark for a conversation
func (db *DB) UpsertReadMark(ctx context.Context, conversationID, userID string, uptoSeq int64) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO read_marks (conversation_id, user_id, upto_seq) VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET upto_seq = GREATEST(read_marks.upto_seq, EXCLUDED.upto_seq)`,
		conversationID, userID, uptoSeq)
	if err != nil {
		return fmt.Errorf("failed to upsert read mark: %w", err)
	}
	return nil
}

// GetReadMarks retrieves the read watermarks of a conversation
func (db *DB) GetReadMarks(ctx context.Context, conversationID string) (map[string]int64, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT user_id, upto_seq FROM read_marks WHERE conversation_id = $1", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get read marks: %w", err)
	}
	defer rows.Close()

	marks := make(map[string]int64)
	for rows.Next() {
		var userID string
		var seq int64
		if err := rows.Scan(&userID, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan read mark: %w", err)
		}
		marks[userID] = seq
	}
	return marks, rows.Err()
}

// CreateOffer inserts a new offer
func (db *DB) CreateOffer(ctx context.Context, o *models.Offer) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO offers (id, conversation_id, amount, proposed_by, status, supersedes, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.ConversationID, o.Amount, o.ProposedBy, o.Status, o.Supersedes, o.CreatedAt, o.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return nil
}

// UpdateOffer records an offer's resolution
func (db *DB) UpdateOffer(ctx context.Context, o *models.Offer) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE offers SET status = $1, resolved_at = $2 WHERE id = $3",
		o.Status, o.ResolvedAt, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return nil
}

// UpdateOfferStatus records a status-only offer resolution, for the
// write-behind recorder
func (db *DB) UpdateOfferStatus(ctx context.Context, offerID string, status models.OfferStatus, resolvedAt time.Time) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE offers SET status = $1, resolved_at = $2 WHERE id = $3",
		status, resolvedAt, offerID)
	if err != nil {
		return fmt.Errorf("failed to update offer status: %w", err)
	}
	return nil
}

// GetAllOffers retrieves all offers for startup hydration
func (db *DB) GetAllOffers(ctx context.Context) ([]models.Offer, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, conversation_id, amount, proposed_by, status, supersedes, created_at, resolved_at FROM offers`)
	if err != nil {
		return nil, fmt.Errorf("failed to get offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.ID, &o.ConversationID, &o.Amount, &o.ProposedBy, &o.Status,
			&o.Supersedes, &o.CreatedAt, &o.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// CreateTransaction inserts a new transaction
func (db *DB) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO transactions (id, listing_id, conversation_id, buyer_id, seller_id, amount, method, status, created_at, awaiting_since)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ListingID, t.ConversationID, t.BuyerID, t.SellerID, t.Amount, t.Method, t.Status, t.CreatedAt, t.AwaitingSince)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// UpdateTransaction records a transaction's method, status and
// confirmation-window start
func (db *DB) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE transactions SET method = $1, status = $2, awaiting_since = $3 WHERE id = $4",
		t.Method, t.Status, t.AwaitingSince, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// UpdateTransactionStatus records a status-only transaction change, for the
// write-behind recorder
func (db *DB) UpdateTransactionStatus(ctx context.Context, txnID string, status models.TransactionStatus) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE transactions SET status = $1 WHERE id = $2", status, txnID)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

// RecordAcceptedOffer applies an offer acceptance atomically: the offer
// resolution, the new transaction and the listing reservation commit
// together or not at all
func (db *DB) RecordAcceptedOffer(ctx context.Context, o *models.Offer, t *models.Transaction) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"UPDATE offers SET status = $1, resolved_at = $2 WHERE id = $3",
		o.Status, o.ResolvedAt, o.ID); err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, listing_id, conversation_id, buyer_id, seller_id, amount, method, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.ListingID, t.ConversationID, t.BuyerID, t.SellerID, t.Amount, t.Method, t.Status, t.CreatedAt); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE listings SET status = $1 WHERE id = $2",
		models.ListingReserved, t.ListingID); err != nil {
		return fmt.Errorf("failed to update listing status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAllTransactions retrieves all transactions for startup hydration
func (db *DB) GetAllTransactions(ctx context.Context) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, listing_id, conversation_id, buyer_id, seller_id, amount, method, status, created_at, awaiting_since FROM transactions`)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.ConversationID, &t.BuyerID, &t.SellerID,
			&t.Amount, &t.Method, &t.Status, &t.CreatedAt, &t.AwaitingSince); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// CreateReport inserts a new report
func (db *DB) CreateReport(ctx context.Context, rep *models.Report) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO reports (id, reporter_id, listing_id, user_id, reason, details, priority, status, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rep.ID, rep.ReporterID, rep.ListingID, rep.UserID, rep.Reason, rep.Details, rep.Priority, rep.Status, rep.CreatedAt, rep.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// UpdateReport records a report's review outcome
func (db *DB) UpdateReport(ctx context.Context, rep *models.Report) error {
	_, err := db.Pool.Exec(ctx,
		"UPDATE reports SET status = $1, resolved_at = $2 WHERE id = $3",
		rep.Status, rep.ResolvedAt, rep.ID)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	return nil
}

// GetAllReports retrieves all reports for startup hydration
func (db *DB) GetAllReports(ctx context.Context) ([]models.Report, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, reporter_id, listing_id, user_id, reason, details, priority, status, created_at, resolved_at FROM reports`)
	if err != nil {
		return nil, fmt.Errorf("failed to get reports: %w", err)
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var rep models.Report
		if err := rows.Scan(&rep.ID, &rep.ReporterID, &rep.ListingID, &rep.UserID, &rep.Reason,
			&rep.Details, &rep.Priority, &rep.Status, &rep.CreatedAt, &rep.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}

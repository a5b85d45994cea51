package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

var (
	// ErrInsufficientPoints is internal to the engine; Redeem reports it as false.
	ErrInsufficientPoints = errors.New("loyalty: insufficient points")
	ErrInvalidPoints      = errors.New("loyalty: points must be positive")

	errNoActiveProgram = errors.New("loyalty: no active program")
)

const (
	TxEarn   = "EARN"
	TxRedeem = "REDEEM"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is satisfied by pgxpool.Pool and pgxmock pools.
type TxDB interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Accrual summarises the ledger entries written by one accrual.
type Accrual struct {
	CardID  string
	Entries int
	Points  int64
}

// Engine evaluates earning rules and maintains the point ledger and card balances.
// Every ledger row is written in the same transaction as the card balance change.
type Engine struct {
	pool   TxDB
	logger *logging.Logger
}

func NewEngine(pool *pgxpool.Pool, logger *logging.Logger) *Engine {
	if pool == nil {
		panic("loyalty: pgx pool required")
	}
	return NewEngineWithDB(pool, logger)
}

// NewEngineWithDB allows injecting a mocked pool for tests.
func NewEngineWithDB(db TxDB, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{pool: db, logger: logger}
}

// AccrueForTransaction awards points for a purchase. Every active PURCHASE rule whose
// minimum is met produces its own EARN entry.
func (e *Engine) AccrueForTransaction(ctx context.Context, customerID, tenantID string, amount decimal.Decimal, appointmentID string) (Accrual, error) {
	return e.accrue(ctx, tenantID, customerID, ActionPurchase, func(rules []Rule) []earning {
		var out []earning
		for _, rule := range rules {
			if !rule.Qualifies(amount) {
				continue
			}
			if pts := rule.PointsFor(amount); pts > 0 {
				out = append(out, earning{rule: rule, points: pts})
			}
		}
		return out
	}, appointmentID)
}

// AccrueForVisit awards points for an appointment using only the first active VISIT rule.
func (e *Engine) AccrueForVisit(ctx context.Context, customerID, tenantID, appointmentID string) (Accrual, error) {
	return e.accrue(ctx, tenantID, customerID, ActionVisit, func(rules []Rule) []earning {
		if len(rules) == 0 {
			return nil
		}
		first := rules[0]
		if pts := first.PointsValue.Floor().IntPart(); pts > 0 {
			return []earning{{rule: first, points: pts}}
		}
		return nil
	}, appointmentID)
}

type earning struct {
	rule   Rule
	points int64
}

func (e *Engine) accrue(ctx context.Context, tenantID, customerID, action string, pick func([]Rule) []earning, appointmentID string) (Accrual, error) {
	logger := e.logger.With("tenant_id", tenantID, "customer_id", customerID, "action", action)
	var result Accrual
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		programID, err := activeProgram(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		cardID, err := getOrCreateCard(ctx, tx, tenantID, programID, customerID)
		if err != nil {
			return err
		}
		result.CardID = cardID

		rules, err := activeRules(ctx, tx, programID, action)
		if err != nil {
			return err
		}
		for _, earn := range pick(rules) {
			desc := fmt.Sprintf("Earned via rule %q", earn.rule.Name)
			if err := appendEntry(ctx, tx, tenantID, cardID, earn.points, TxEarn, desc, appointmentID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				UPDATE loyalty_cards
				SET current_points = current_points + $2,
				    total_earned_points = total_earned_points + $2,
				    updated_at = now()
				WHERE id = $1`, cardID, earn.points); err != nil {
				return fmt.Errorf("loyalty: credit card: %w", err)
			}
			result.Entries++
			result.Points += earn.points
		}
		return nil
	})
	if errors.Is(err, errNoActiveProgram) {
		logger.Debug("no active loyalty program; skipping accrual")
		return Accrual{}, nil
	}
	if err != nil {
		return Accrual{}, err
	}
	if result.Entries > 0 {
		logger.Info("loyalty points earned", "card_id", result.CardID, "entries", result.Entries, "points", result.Points)
	}
	return result, nil
}

// Redeem debits points from the customer's active card. It returns false without error
// when the card is missing or its balance is too low.
func (e *Engine) Redeem(ctx context.Context, customerID, tenantID string, points int64, description string) (bool, error) {
	if points <= 0 {
		return false, ErrInvalidPoints
	}
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		var cardID string
		var current int64
		err := tx.QueryRow(ctx, `
			SELECT c.id, c.current_points
			FROM loyalty_cards c
			JOIN loyalty_programs p ON p.id = c.program_id
			WHERE p.tenant_id = $1 AND p.is_active AND c.customer_id = $2 AND c.is_active
			FOR UPDATE OF c`, tenantID, customerID).Scan(&cardID, &current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInsufficientPoints
			}
			return fmt.Errorf("loyalty: lock card: %w", err)
		}
		if current < points {
			return ErrInsufficientPoints
		}

		tag, err := tx.Exec(ctx, `
			UPDATE loyalty_cards
			SET current_points = current_points - $2,
			    total_redeemed_points = total_redeemed_points + $2,
			    updated_at = now()
			WHERE id = $1 AND current_points >= $2`, cardID, points)
		if err != nil {
			return fmt.Errorf("loyalty: debit card: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientPoints
		}
		return appendEntry(ctx, tx, tenantID, cardID, -points, TxRedeem, description, "")
	})
	if errors.Is(err, ErrInsufficientPoints) {
		e.logger.Info("loyalty redemption rejected", "tenant_id", tenantID, "customer_id", customerID, "points", points)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("loyalty: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("loyalty: commit tx: %w", err)
	}
	return nil
}

func activeProgram(ctx context.Context, q querier, tenantID string) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
		SELECT id FROM loyalty_programs
		WHERE tenant_id = $1 AND is_active
		ORDER BY created_at, id
		LIMIT 1`, tenantID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errNoActiveProgram
		}
		return "", fmt.Errorf("loyalty: load program: %w", err)
	}
	return id, nil
}

// getOrCreateCard returns the customer's active card, creating it on first use, and
// locks it for the rest of the transaction.
func getOrCreateCard(ctx context.Context, q querier, tenantID, programID, customerID string) (string, error) {
	if _, err := q.Exec(ctx, `
		INSERT INTO loyalty_cards (id, tenant_id, program_id, customer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (program_id, customer_id) WHERE is_active DO NOTHING`,
		uuid.New(), tenantID, programID, customerID); err != nil {
		return "", fmt.Errorf("loyalty: create card: %w", err)
	}
	var id string
	if err := q.QueryRow(ctx, `
		SELECT id FROM loyalty_cards
		WHERE program_id = $1 AND customer_id = $2 AND is_active
		FOR UPDATE`, programID, customerID).Scan(&id); err != nil {
		return "", fmt.Errorf("loyalty: load card: %w", err)
	}
	return id, nil
}

func activeRules(ctx context.Context, q querier, programID, action string) ([]Rule, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, action_type, kind, points_value, min_transaction_value
		FROM loyalty_rules
		WHERE program_id = $1 AND action_type = $2 AND is_active
		ORDER BY created_at, id`, programID, action)
	if err != nil {
		return nil, fmt.Errorf("loyalty: list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Name, &r.ActionType, &r.Kind, &r.PointsValue, &r.MinTransactionValue); err != nil {
			return nil, fmt.Errorf("loyalty: scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loyalty: list rules: %w", err)
	}
	return rules, nil
}

func appendEntry(ctx context.Context, q querier, tenantID, cardID string, points int64, kind, description, appointmentID string) error {
	var related *string
	if appointmentID != "" {
		related = &appointmentID
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO loyalty_transactions (id, tenant_id, card_id, points, type, description, related_appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), tenantID, cardID, points, kind, description, related); err != nil {
		return fmt.Errorf("loyalty: append %s entry: %w", kind, err)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/escrowd/coordinator/internal/apperr"
	"github.com/escrowd/coordinator/internal/models"
)

// orderColumns lists the column order used by every SELECT in this file, so
// scanOrderRow and the query strings stay in lockstep.
const orderColumns = `
	order_id, network, xpub_buyer, xpub_seller, xpub_escrow,
	descriptor, descriptor_checksum, child_index, label,
	min_conf, amount_sat, fee_est_sat, state,
	funding_txid, funding_vout, confirmations,
	partials, outputs, output_type, payout_txid, deadline_ts,
	rbf_psbt, rbf_partials, rbf_state, rbf_count,
	last_webhook_ts, created_at
`

func scanOrderRow(row *sql.Row) (*models.Order, error) {
	var o models.Order
	var partialsJSON, outputsJSON, rbfPartialsJSON string
	var outputType, rbfState string

	err := row.Scan(
		&o.OrderID, &o.Network, &o.XpubBuyer, &o.XpubSeller, &o.XpubEscrow,
		&o.Descriptor, &o.DescriptorChecksum, &o.Index, &o.Label,
		&o.MinConf, &o.AmountSat, &o.FeeEstSat, &o.State,
		&o.FundingTxid, &o.FundingVout, &o.Confirmations,
		&partialsJSON, &outputsJSON, &outputType, &o.PayoutTxid, &o.DeadlineTS,
		&o.RBFPSBT, &rbfPartialsJSON, &rbfState, &o.RBFCount,
		&o.LastWebhookTS, &o.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: order", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.OutputType = models.OutputType(outputType)
	o.RBFState = models.OrderState(rbfState)

	if err := json.Unmarshal([]byte(partialsJSON), &o.Partials); err != nil {
		return nil, fmt.Errorf("decode partials: %w", err)
	}
	if err := json.Unmarshal([]byte(outputsJSON), &o.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	if err := json.Unmarshal([]byte(rbfPartialsJSON), &o.RBFPartials); err != nil {
		return nil, fmt.Errorf("decode rbf_partials: %w", err)
	}

	return &o, nil
}

// UpsertOrder inserts a new order row. Creation is idempotent on order_id:
// if the order already exists, the insert is a no-op and the caller should
// fetch and return the existing row.
func (d *DB) UpsertOrder(ctx context.Context, o *models.Order) error {
	partialsJSON, _ := json.Marshal(o.Partials)
	outputsJSON, _ := json.Marshal(o.Outputs)
	rbfPartialsJSON, _ := json.Marshal(o.RBFPartials)

	_, err := d.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO orders (
			order_id, network, xpub_buyer, xpub_seller, xpub_escrow,
			descriptor, descriptor_checksum, child_index, label,
			min_conf, amount_sat, fee_est_sat, state,
			funding_txid, funding_vout, confirmations,
			partials, outputs, output_type, payout_txid, deadline_ts,
			rbf_psbt, rbf_partials, rbf_state, rbf_count,
			last_webhook_ts, created_at
		) VALUES (?,?,?,?,?, ?,?,?,?, ?,?,?,?, ?,?,?, ?,?,?,?,?, ?,?,?,?, ?,?)
	`,
		o.OrderID, o.Network, o.XpubBuyer, o.XpubSeller, o.XpubEscrow,
		o.Descriptor, o.DescriptorChecksum, o.Index, o.Label,
		o.MinConf, o.AmountSat, o.FeeEstSat, o.State,
		o.FundingTxid, o.FundingVout, o.Confirmations,
		string(partialsJSON), string(outputsJSON), string(o.OutputType), o.PayoutTxid, o.DeadlineTS,
		o.RBFPSBT, string(rbfPartialsJSON), string(o.RBFState), o.RBFCount,
		o.LastWebhookTS, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder fetches an order by id, returning apperr.ErrNotFound if absent.
func (d *DB) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	return scanOrderRow(row)
}

// UpdateState performs the compare-and-swap transition `from -> to`,
// persisting it only if the row's current state still equals `from`. A
// mismatch (another writer already moved the order, or it never existed)
// resolves to either apperr.ErrNotFound or apperr.ErrInvalidTransition.
// confirmations, when non-nil, is written in the same statement.
// Entering escrow_funded or signing should pass a non-zero deadlineTS;
// other transitions should pass 0 to clear it.
func (d *DB) UpdateState(ctx context.Context, orderID string, from, to models.OrderState, confirmations *int, deadlineTS int64) error {
	now := time.Now().Unix()

	var res sql.Result
	var err error
	if confirmations != nil {
		res, err = d.conn.ExecContext(ctx, `
			UPDATE orders SET state = ?, confirmations = ?, deadline_ts = ?, created_at = ?
			WHERE order_id = ? AND state = ?
		`, to, *confirmations, deadlineTS, now, orderID, from)
	} else {
		res, err = d.conn.ExecContext(ctx, `
			UPDATE orders SET state = ?, deadline_ts = ?, created_at = ?
			WHERE order_id = ? AND state = ?
		`, to, deadlineTS, now, orderID, from)
	}
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := d.GetOrder(ctx, orderID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: order %s is not in state %s", apperr.ErrInvalidTransition, orderID, from)
	}
	return nil
}

// UpdateConfirmationsOnly refreshes confirmations without changing state,
// used when a status read re-observes the same funding snapshot.
func (d *DB) UpdateConfirmationsOnly(ctx context.Context, orderID string, confirmations int) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE orders SET confirmations = ? WHERE order_id = ?`, confirmations, orderID)
	if err != nil {
		return fmt.Errorf("update confirmations: %w", err)
	}
	return nil
}

// SavePartials overwrites the order's persisted partial-signature set.
func (d *DB) SavePartials(ctx context.Context, orderID string, partials []string) error {
	b, _ := json.Marshal(partials)
	_, err := d.conn.ExecContext(ctx, `UPDATE orders SET partials = ? WHERE order_id = ?`, string(b), orderID)
	if err != nil {
		return fmt.Errorf("save partials: %w", err)
	}
	return nil
}

// GetPartials returns the order's persisted partial-signature fragments.
func (d *DB) GetPartials(ctx context.Context, orderID string) ([]string, error) {
	o, err := d.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return o.Partials, nil
}

// SetOutputs persists the immutable outputs commitment and output type.
func (d *DB) SetOutputs(ctx context.Context, orderID string, outputs map[string]int64, outputType models.OutputType) error {
	b, _ := json.Marshal(outputs)
	_, err := d.conn.ExecContext(ctx, `UPDATE orders SET outputs = ?, output_type = ? WHERE order_id = ?`, string(b), string(outputType), orderID)
	if err != nil {
		return fmt.Errorf("set outputs: %w", err)
	}
	return nil
}

// GetOutputs returns the order's immutable outputs commitment.
func (d *DB) GetOutputs(ctx context.Context, orderID string) (map[string]int64, models.OutputType, error) {
	o, err := d.GetOrder(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	return o.Outputs, o.OutputType, nil
}

// UpdateFunding records the last observed funding UTXO snapshot.
func (d *DB) UpdateFunding(ctx context.Context, orderID, txid string, vout, confirmations int) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE orders SET funding_txid = ?, funding_vout = ?, confirmations = ? WHERE order_id = ?
	`, txid, vout, confirmations, orderID)
	if err != nil {
		return fmt.Errorf("update funding: %w", err)
	}
	return nil
}

// SetPayoutTxid persists the txid broadcast for settlement.
func (d *DB) SetPayoutTxid(ctx context.Context, orderID, txid string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE orders SET payout_txid = ? WHERE order_id = ?`, txid, orderID)
	if err != nil {
		return fmt.Errorf("set payout txid: %w", err)
	}
	return nil
}

// SetLastWebhookTS stamps the terminal-webhook dedup marker.
func (d *DB) SetLastWebhookTS(ctx context.Context, orderID string, ts int64) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE orders SET last_webhook_ts = ? WHERE order_id = ?`, ts, orderID)
	if err != nil {
		return fmt.Errorf("set last webhook ts: %w", err)
	}
	return nil
}

// StartRBF moves the order into the rbf_signing side-state, recording the
// new fee-bump PST and the state to restore on clear_rbf.
func (d *DB) StartRBF(ctx context.Context, orderID string, rbfPSBT string, restoreState models.OrderState) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE orders SET state = ?, rbf_psbt = ?, rbf_state = ?, partials = '[]', rbf_partials = '[]'
		WHERE order_id = ?
	`, models.StateRBFSigning, rbfPSBT, restoreState, orderID)
	if err != nil {
		return fmt.Errorf("start rbf: %w", err)
	}
	return nil
}

// GetRBFPSBT returns the currently staged fee-bump PST.
func (d *DB) GetRBFPSBT(ctx context.Context, orderID string) (string, error) {
	o, err := d.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.RBFPSBT, nil
}

// SaveRBFPartials overwrites the in-progress fee-bump round's partials.
func (d *DB) SaveRBFPartials(ctx context.Context, orderID string, partials []string) error {
	b, _ := json.Marshal(partials)
	_, err := d.conn.ExecContext(ctx, `UPDATE orders SET rbf_partials = ? WHERE order_id = ?`, string(b), orderID)
	if err != nil {
		return fmt.Errorf("save rbf partials: %w", err)
	}
	return nil
}

// ClearRBF restores the order to its pre-RBF state and clears RBF staging
// fields, bumping rbf_count for audit purposes.
func (d *DB) ClearRBF(ctx context.Context, orderID string) error {
	o, err := d.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	_, err = d.conn.ExecContext(ctx, `
		UPDATE orders SET state = ?, rbf_psbt = '', rbf_partials = '[]', rbf_state = '', rbf_count = rbf_count + 1
		WHERE order_id = ?
	`, o.RBFState, orderID)
	if err != nil {
		return fmt.Errorf("clear rbf: %w", err)
	}
	return nil
}

// CountPendingSignatures sums max(0, 2-len(partials)) across orders
// currently in signing — an observability gauge of outstanding signatures.
func (d *DB) CountPendingSignatures(ctx context.Context) (int, error) {
	orders, err := d.ListOrdersByStates(ctx, []models.OrderState{models.StateSigning})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, o := range orders {
		pending := 2 - len(o.Partials)
		if pending > 0 {
			total += pending
		}
	}
	return total, nil
}

// ListOrdersByStates returns every order whose state is one of states.
func (d *DB) ListOrdersByStates(ctx context.Context, states []models.OrderState) ([]*models.Order, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]interface{}, len(states))
	q := `SELECT ` + orderColumns + ` FROM orders WHERE state IN (`
	for i, s := range states {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders[i] = string(s)
	}
	q += ")"

	rows, err := d.conn.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("list orders by state: %w", err)
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		var o models.Order
		var partialsJSON, outputsJSON, rbfPartialsJSON string
		var outputType, rbfState string

		if err := rows.Scan(
			&o.OrderID, &o.Network, &o.XpubBuyer, &o.XpubSeller, &o.XpubEscrow,
			&o.Descriptor, &o.DescriptorChecksum, &o.Index, &o.Label,
			&o.MinConf, &o.AmountSat, &o.FeeEstSat, &o.State,
			&o.FundingTxid, &o.FundingVout, &o.Confirmations,
			&partialsJSON, &outputsJSON, &outputType, &o.PayoutTxid, &o.DeadlineTS,
			&o.RBFPSBT, &rbfPartialsJSON, &rbfState, &o.RBFCount,
			&o.LastWebhookTS, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		o.OutputType = models.OutputType(outputType)
		o.RBFState = models.OrderState(rbfState)
		json.Unmarshal([]byte(partialsJSON), &o.Partials)
		json.Unmarshal([]byte(outputsJSON), &o.Outputs)
		json.Unmarshal([]byte(rbfPartialsJSON), &o.RBFPartials)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// NextIndex returns max(child_index)+1 across all orders, or 0 if none exist.
func (d *DB) NextIndex(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := d.conn.QueryRowContext(ctx, `SELECT MAX(child_index) FROM orders`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("next index: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

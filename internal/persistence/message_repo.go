package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"meshmon/internal/domain"
)

// PersistedMessage is one durable message row: a normalized packet plus
// the autoincrement sequence used as the stable pagination key.
type PersistedMessage struct {
	Seq    int64
	Packet domain.Packet
}

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Insert(ctx context.Context, p domain.Packet) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages(rx_time, from_id, to_id, channel, portnum, app, text, payload_b64,
			snr, rssi, hop_limit, request_id, want_response, request_to_me, error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.RxTime, nullableString(p.FromID), nullableString(p.ToID), nullableInt(p.Channel),
		nullableInt(p.Portnum), nullableString(p.App), nullableString(p.Text), nullableString(p.PayloadB64),
		nullableFloat(p.SNR), nullableFloat(p.RSSI), nullableInt(p.HopLimit),
		int64(p.RequestID), boolToInt(p.WantResponse), boolToInt(p.RequestToMe), nullableString(p.Error))
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get message seq: %w", err)
	}
	return seq, nil
}

// MessageQuery selects a page of persisted messages. Zero Since/Until
// mean unbounded; Limit <= 0 means no limit.
type MessageQuery struct {
	Since  int64
	Until  int64
	Limit  int
	Offset int
	Order  string // "asc" (default) or "desc", by sequence
}

func (r *MessageRepo) List(ctx context.Context, q MessageQuery) ([]PersistedMessage, error) {
	query := `
		SELECT seq, rx_time, from_id, to_id, channel, portnum, app, text, payload_b64,
			snr, rssi, hop_limit, request_id, want_response, request_to_me, error
		FROM messages
		WHERE 1=1`
	args := make([]any, 0, 4)
	if q.Since > 0 {
		query += ` AND rx_time >= ?`
		args = append(args, q.Since)
	}
	if q.Until > 0 {
		query += ` AND rx_time <= ?`
		args = append(args, q.Until)
	}
	query += ` ORDER BY seq ` + orderDir(q.Order)
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		offset := q.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, q.Limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []PersistedMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (r *MessageRepo) GetBySeq(ctx context.Context, seq int64) (PersistedMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT seq, rx_time, from_id, to_id, channel, portnum, app, text, payload_b64,
			snr, rssi, hop_limit, request_id, want_response, request_to_me, error
		FROM messages
		WHERE seq = ?
	`, seq)
	return scanMessage(row)
}

func scanMessage(scanner interface {
	Scan(dest ...any) error
}) (PersistedMessage, error) {
	var (
		m           PersistedMessage
		fromID      sql.NullString
		toID        sql.NullString
		channel     sql.NullInt64
		portnum     sql.NullInt64
		app         sql.NullString
		text        sql.NullString
		payload     sql.NullString
		snr         sql.NullFloat64
		rssi        sql.NullFloat64
		hopLimit    sql.NullInt64
		requestID   int64
		wantResp    int64
		requestToMe int64
		errText     sql.NullString
	)
	err := scanner.Scan(&m.Seq, &m.Packet.RxTime, &fromID, &toID, &channel, &portnum, &app, &text,
		&payload, &snr, &rssi, &hopLimit, &requestID, &wantResp, &requestToMe, &errText)
	if err != nil {
		return PersistedMessage{}, fmt.Errorf("scan message: %w", err)
	}

	m.Packet.FromID = fromID.String
	m.Packet.ToID = toID.String
	m.Packet.Channel = intPtr(channel)
	m.Packet.Portnum = intPtr(portnum)
	m.Packet.App = app.String
	m.Packet.Text = text.String
	m.Packet.HasText = text.Valid && text.String != ""
	m.Packet.PayloadB64 = payload.String
	m.Packet.HasPayload = payload.Valid && payload.String != ""
	m.Packet.SNR = floatPtr(snr)
	m.Packet.RSSI = floatPtr(rssi)
	m.Packet.HopLimit = intPtr(hopLimit)
	m.Packet.RequestID = uint32(requestID)
	m.Packet.WantResponse = wantResp != 0
	m.Packet.RequestToMe = requestToMe != 0
	m.Packet.Error = errText.String

	return m, nil
}

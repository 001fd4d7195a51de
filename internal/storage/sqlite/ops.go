package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/introkun/netpass-mirror/internal/core"
)

// execer is the query surface shared by *sql.DB, *sql.Tx and the
// slow-query logger.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// dbHandle extends execer with the lifecycle methods of *sql.DB.
type dbHandle interface {
	execer
	Begin() (*sql.Tx, error)
	Close() error
}

// q implements storage.Ops against any execer. Device identities are
// stored as signed 64-bit integers, matching the wire derivation.
type q struct {
	h execer
}

func (o *q) ModifiedOutbox(device core.DeviceID, titleID uint32, messageID int64) ([]byte, error) {
	var msg []byte
	err := o.h.QueryRow(
		`SELECT message FROM outbox WHERE title_id = ? AND mac = ? AND message_id = ? AND modified = 1`,
		titleID, int64(device), messageID,
	).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select modified outbox: %w", err)
	}
	return msg, nil
}

func (o *q) UpsertOutbox(e core.OutboxEntry) error {
	_, err := o.h.Exec(
		`INSERT INTO outbox (title_id, message_id, mac, message, time, send_count, modified)
		 VALUES (?, ?, ?, ?, ?, ?, 0)
		 ON CONFLICT (mac, message_id) DO UPDATE SET
		   title_id = excluded.title_id, message = excluded.message,
		   time = excluded.time, send_count = excluded.send_count, modified = 0`,
		e.TitleID, e.MessageID, int64(e.Device), e.Message, e.UpdatedAt, e.SendCount,
	)
	if err != nil {
		return fmt.Errorf("upsert outbox: %w", err)
	}
	return nil
}

func (o *q) DeleteOutbox(device core.DeviceID, titleID uint32, messageID int64) error {
	_, err := o.h.Exec(
		`DELETE FROM outbox WHERE title_id = ? AND message_id = ? AND mac = ?`,
		titleID, messageID, int64(device),
	)
	if err != nil {
		return fmt.Errorf("delete outbox: %w", err)
	}
	return nil
}

func (o *q) UpdateOutboxRelayed(device core.DeviceID, messageID int64, sendCount uint8, message []byte) error {
	_, err := o.h.Exec(
		`UPDATE outbox SET send_count = ?, message = ?, modified = 1 WHERE mac = ? AND message_id = ?`,
		sendCount, message, int64(device), messageID,
	)
	if err != nil {
		return fmt.Errorf("update relayed outbox: %w", err)
	}
	return nil
}

func (o *q) EligibleOutbox(recipient, sender core.DeviceID) ([]core.OutboxEntry, error) {
	// GROUP BY picks an arbitrary row per title, tolerating the
	// should-not-happen case of duplicate titles in one outbox.
	rows, err := o.h.Query(
		`SELECT o.title_id, o.message_id, o.mac, o.message, o.time, o.send_count, o.modified
		 FROM outbox o INNER JOIN mboxlist m ON o.title_id = m.title_id
		 WHERE m.mac = ? AND o.mac = ? AND o.send_count <> 0
		 GROUP BY o.title_id`,
		int64(recipient), int64(sender),
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible outbox: %w", err)
	}
	defer rows.Close()

	var out []core.OutboxEntry
	for rows.Next() {
		var (
			e        core.OutboxEntry
			mac      int64
			modified int
		)
		if err := rows.Scan(&e.TitleID, &e.MessageID, &mac, &e.Message, &e.UpdatedAt, &e.SendCount, &modified); err != nil {
			return nil, fmt.Errorf("scan eligible outbox: %w", err)
		}
		e.Device = core.DeviceID(mac)
		e.Modified = modified != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func (o *q) InsertInbox(e core.InboxEntry) error {
	_, err := o.h.Exec(
		`INSERT INTO inbox (title_id, message_id, from_mac, to_mac, message, time)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		e.TitleID, e.MessageID, int64(e.From), int64(e.To), e.Message, e.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbox: %w", err)
	}
	return nil
}

func (o *q) NewestUnconsumedInbox(device core.DeviceID, titleID uint32) (*core.InboxEntry, error) {
	var (
		e        core.InboxEntry
		from, to int64
	)
	err := o.h.QueryRow(
		`SELECT title_id, message_id, from_mac, to_mac, message, time
		 FROM inbox WHERE title_id = ? AND to_mac = ? AND sent = 0
		 ORDER BY time DESC, rowid DESC LIMIT 1`,
		titleID, int64(device),
	).Scan(&e.TitleID, &e.MessageID, &from, &to, &e.Message, &e.DeliveredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select newest inbox: %w", err)
	}
	e.From = core.DeviceID(from)
	e.To = core.DeviceID(to)
	return &e, nil
}

func (o *q) MarkInboxConsumed(messageID int64, device core.DeviceID) error {
	_, err := o.h.Exec(
		`UPDATE inbox SET sent = 1 WHERE message_id = ? AND to_mac = ?`,
		messageID, int64(device),
	)
	if err != nil {
		return fmt.Errorf("mark inbox consumed: %w", err)
	}
	return nil
}

func (o *q) ReplaceMemberships(device core.DeviceID, titleIDs []uint32, now int64) error {
	if _, err := o.h.Exec(`DELETE FROM mboxlist WHERE mac = ?`, int64(device)); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	for _, titleID := range titleIDs {
		if _, err := o.h.Exec(
			`INSERT INTO mboxlist (mac, title_id, time) VALUES (?, ?, ?)
			 ON CONFLICT (mac, title_id) DO UPDATE SET time = excluded.time`,
			int64(device), titleID, now,
		); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
	}
	return nil
}

func (o *q) MembershipCount(device core.DeviceID) (int, error) {
	var n int
	if err := o.h.QueryRow(`SELECT COUNT(*) FROM mboxlist WHERE mac = ?`, int64(device)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memberships: %w", err)
	}
	return n, nil
}

func (o *q) EnterLocation(e core.LocationEntry) error {
	_, err := o.h.Exec(
		`INSERT INTO location (location_id, mac, time_start, time_end)
		 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		e.LocationID, int64(e.Device), e.Start, e.End,
	)
	if err != nil {
		return fmt.Errorf("enter location: %w", err)
	}
	return nil
}

func (o *q) Location(device core.DeviceID) (*core.LocationEntry, error) {
	var (
		e   core.LocationEntry
		mac int64
	)
	err := o.h.QueryRow(
		`SELECT location_id, mac, time_start, time_end FROM location WHERE mac = ?`,
		int64(device),
	).Scan(&e.LocationID, &mac, &e.Start, &e.End)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select location: %w", err)
	}
	e.Device = core.DeviceID(mac)
	return &e, nil
}

func (o *q) RandomPeers(device core.DeviceID, locationID int32, limit int) ([]core.DeviceID, error) {
	rows, err := o.h.Query(
		`SELECT mac FROM location WHERE mac <> ? AND location_id = ? ORDER BY RANDOM() LIMIT ?`,
		int64(device), locationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var out []core.DeviceID
	for rows.Next() {
		var mac int64
		if err := rows.Scan(&mac); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		out = append(out, core.DeviceID(mac))
	}
	return out, rows.Err()
}

func (o *q) LocationPopulation(locationID int32) (int, error) {
	var n int
	if err := o.h.QueryRow(`SELECT COUNT(*) FROM location WHERE location_id = ?`, locationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count population: %w", err)
	}
	return n, nil
}

func (o *q) SamplePairs(locationID int32, limit int) ([][2]core.DeviceID, error) {
	rows, err := o.h.Query(
		`SELECT l1.mac, (
		   SELECT l2.mac FROM location l2
		   WHERE l2.location_id = l1.location_id AND l1.mac <> l2.mac
		   ORDER BY RANDOM() LIMIT 1
		 ) partner
		 FROM location l1 WHERE l1.location_id = ?
		 ORDER BY RANDOM() LIMIT ?`,
		locationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sample pairs: %w", err)
	}
	defer rows.Close()

	var out [][2]core.DeviceID
	for rows.Next() {
		var (
			mac     int64
			partner sql.NullInt64
		)
		if err := rows.Scan(&mac, &partner); err != nil {
			return nil, fmt.Errorf("scan sample pair: %w", err)
		}
		p := mac
		if partner.Valid {
			p = partner.Int64
		}
		out = append(out, [2]core.DeviceID{core.DeviceID(mac), core.DeviceID(p)})
	}
	return out, rows.Err()
}

func (o *q) CountAnomaly(titleID uint32, reason core.AnomalyReason, note string) error {
	_, err := o.h.Exec(
		`INSERT INTO research (title_id, reason, reason_id) VALUES (?, ?, ?)
		 ON CONFLICT (title_id, reason_id) DO UPDATE SET count = count + 1`,
		titleID, note, int(reason),
	)
	if err != nil {
		return fmt.Errorf("count anomaly: %w", err)
	}
	return nil
}

func (o *q) BumpTitleName(titleID uint32, name string) error {
	_, err := o.h.Exec(
		`INSERT INTO title (title_id, title_name) VALUES (?, ?)
		 ON CONFLICT (title_id, title_name) DO UPDATE SET count = count + 1`,
		titleID, name,
	)
	if err != nil {
		return fmt.Errorf("bump title name: %w", err)
	}
	return nil
}

func (o *q) deleteBefore(table, column string, cutoff int64) (int64, error) {
	res, err := o.h.Exec(fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, table, column), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (o *q) DeleteOutboxBefore(cutoff int64) (int64, error) {
	return o.deleteBefore("outbox", "time", cutoff)
}

func (o *q) DeleteInboxBefore(cutoff int64) (int64, error) {
	return o.deleteBefore("inbox", "time", cutoff)
}

func (o *q) DeleteMembershipsBefore(cutoff int64) (int64, error) {
	return o.deleteBefore("mboxlist", "time", cutoff)
}

func (o *q) DeleteExpiredLocations(now int64) (int64, error) {
	return o.deleteBefore("location", "time_end", now)
}

func (o *q) DeviceData(device core.DeviceID) (core.DeviceData, error) {
	var data core.DeviceData

	outbox, err := o.h.Query(
		`SELECT title_id, message_id, mac, message, time, send_count, modified FROM outbox WHERE mac = ?`,
		int64(device),
	)
	if err != nil {
		return data, fmt.Errorf("query outbox: %w", err)
	}
	defer outbox.Close()
	for outbox.Next() {
		var (
			e        core.OutboxEntry
			mac      int64
			modified int
		)
		if err := outbox.Scan(&e.TitleID, &e.MessageID, &mac, &e.Message, &e.UpdatedAt, &e.SendCount, &modified); err != nil {
			return data, fmt.Errorf("scan outbox: %w", err)
		}
		e.Device = core.DeviceID(mac)
		e.Modified = modified != 0
		data.Outbox = append(data.Outbox, e)
	}
	if err := outbox.Err(); err != nil {
		return data, err
	}

	scanInbox := func(query string) ([]core.InboxEntry, error) {
		rows, err := o.h.Query(query, int64(device))
		if err != nil {
			return nil, fmt.Errorf("query inbox: %w", err)
		}
		defer rows.Close()
		var out []core.InboxEntry
		for rows.Next() {
			var (
				e        core.InboxEntry
				from, to int64
				sent     int
			)
			if err := rows.Scan(&e.TitleID, &e.MessageID, &from, &to, &e.Message, &sent, &e.DeliveredAt); err != nil {
				return nil, fmt.Errorf("scan inbox: %w", err)
			}
			e.From = core.DeviceID(from)
			e.To = core.DeviceID(to)
			e.Consumed = sent != 0
			out = append(out, e)
		}
		return out, rows.Err()
	}
	if data.InboxFrom, err = scanInbox(
		`SELECT title_id, message_id, from_mac, to_mac, message, sent, time FROM inbox WHERE from_mac = ?`,
	); err != nil {
		return data, err
	}
	if data.InboxTo, err = scanInbox(
		`SELECT title_id, message_id, from_mac, to_mac, message, sent, time FROM inbox WHERE to_mac = ?`,
	); err != nil {
		return data, err
	}

	if loc, err := o.Location(device); err != nil {
		return data, err
	} else if loc != nil {
		data.Locations = append(data.Locations, *loc)
	}

	memberships, err := o.h.Query(`SELECT title_id, time FROM mboxlist WHERE mac = ?`, int64(device))
	if err != nil {
		return data, fmt.Errorf("query memberships: %w", err)
	}
	defer memberships.Close()
	for memberships.Next() {
		m := core.Membership{Device: device}
		if err := memberships.Scan(&m.TitleID, &m.UpdatedAt); err != nil {
			return data, fmt.Errorf("scan membership: %w", err)
		}
		data.Memberships = append(data.Memberships, m)
	}
	return data, memberships.Err()
}

func (o *q) PurgeDevice(device core.DeviceID) error {
	mac := int64(device)
	if _, err := o.h.Exec(`DELETE FROM outbox WHERE mac = ?`, mac); err != nil {
		return fmt.Errorf("purge outbox: %w", err)
	}
	if _, err := o.h.Exec(`DELETE FROM inbox WHERE from_mac = ? OR to_mac = ?`, mac, mac); err != nil {
		return fmt.Errorf("purge inbox: %w", err)
	}
	if _, err := o.h.Exec(`DELETE FROM location WHERE mac = ?`, mac); err != nil {
		return fmt.Errorf("purge location: %w", err)
	}
	if _, err := o.h.Exec(`DELETE FROM mboxlist WHERE mac = ?`, mac); err != nil {
		return fmt.Errorf("purge mboxlist: %w", err)
	}
	return nil
}

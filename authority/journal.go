//go:build !nosqlite

package authority

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"

	// sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

// JournalSupported reports whether the journaled store is compiled in.
const JournalSupported = true

const journalSchema = `CREATE TABLE IF NOT EXISTS journal (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	serial INTEGER NOT NULL,
	op     TEXT NOT NULL,
	name   TEXT NOT NULL,
	rrtype INTEGER NOT NULL,
	record TEXT NOT NULL
)`

const (
	opAdd       = "add"
	opDelete    = "delete"
	opDelRRset  = "delete-rrset"
	opDelName   = "delete-name"
	maxSigSkew  = 5 * time.Minute
	journalStmt = "INSERT INTO journal (serial, op, name, rrtype, record) VALUES (?, ?, ?, ?, ?)"
)

// JournalAuthority is a FileAuthority whose changes are persisted to a
// sqlite journal. An existing journal is replayed instead of the master file.
type JournalAuthority struct {
	*FileAuthority

	db          *sql.DB
	journalPath string
	allowUpdate bool

	// updates are applied one at a time
	update sync.Mutex
}

type journalOp struct {
	op     string
	rr     dns.RR
	name   string
	rrtype uint16
}

// NewJournalAuthority opens the journal at journalPath, replaying it when it
// holds records and seeding it from the master file otherwise.
func NewJournalAuthority(ctx context.Context, info ZoneInfo, zonePath, journalPath string, allowUpdate bool) (*JournalAuthority, error) {
	journalPath = info.Path(journalPath)

	db, err := sql.Open("sqlite3", journalPath)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", journalPath, err)
	}

	a, err := openJournal(ctx, db, info, zonePath, journalPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal %s: %w", journalPath, err)
	}
	a.allowUpdate = allowUpdate

	return a, nil
}

func openJournal(ctx context.Context, db *sql.DB, info ZoneInfo, zonePath, journalPath string) (*JournalAuthority, error) {
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		return nil, err
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal").Scan(&count); err != nil {
		return nil, err
	}

	info.Origin = dns.CanonicalName(info.Origin)

	if count > 0 {
		data := newZoneData(info.Origin)
		if err := replay(ctx, db, data); err != nil {
			return nil, err
		}

		zlog.Info("Zone recovered from journal", "zone", info.Origin, "journal", journalPath, "serial", data.serial())

		return &JournalAuthority{
			FileAuthority: &FileAuthority{
				info:       info,
				path:       info.Path(zonePath),
				data:       data,
				updateKeys: make(map[string][]*dns.KEY),
			},
			db:          db,
			journalPath: journalPath,
		}, nil
	}

	fa, err := NewFileAuthority(ctx, info, zonePath)
	if err != nil {
		return nil, err
	}

	ops := make([]journalOp, 0)
	for _, rr := range fa.data.all(false) {
		ops = append(ops, journalOp{op: opAdd, rr: rr})
	}

	a := &JournalAuthority{FileAuthority: fa, db: db, journalPath: journalPath}
	if err := a.persist(ctx, fa.Serial(), ops); err != nil {
		return nil, err
	}

	return a, nil
}

func replay(ctx context.Context, db *sql.DB, data *zoneData) error {
	rows, err := db.QueryContext(ctx, "SELECT op, name, rrtype, record FROM journal ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	data.mu.Lock()
	defer data.mu.Unlock()

	for rows.Next() {
		var op journalOp
		var record string
		if err := rows.Scan(&op.op, &op.name, &op.rrtype, &record); err != nil {
			return err
		}

		if op.op == opAdd || op.op == opDelete {
			if op.rr, err = dns.NewRR(record); err != nil {
				return fmt.Errorf("journal record %q: %w", record, err)
			}
		}

		data.apply(op)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	if data.soaLocked() == nil {
		return fmt.Errorf("zone %s has no SOA record", data.origin)
	}

	return nil
}

// Close closes the journal database.
func (a *JournalAuthority) Close() error { return a.db.Close() }

// JournalPath returns the journal database path.
func (a *JournalAuthority) JournalPath() string { return a.journalPath }

// AllowUpdate reports whether dynamic updates are accepted.
func (a *JournalAuthority) AllowUpdate() bool { return a.allowUpdate }

func (a *JournalAuthority) persist(ctx context.Context, serial uint32, ops []journalOp) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, journalStmt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, op := range ops {
		record := ""
		if op.rr != nil {
			record = op.rr.String()
			op.name, op.rrtype = op.rr.Header().Name, op.rr.Header().Rrtype
		}

		if _, err := stmt.ExecContext(ctx, serial, op.op, op.name, op.rrtype, record); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Update implements Updater. It returns the response code of the update.
func (a *JournalAuthority) Update(ctx context.Context, req *dns.Msg, wire []byte) int {
	if !a.allowUpdate {
		return dns.RcodeRefused
	}

	if rcode := a.authorize(req, wire); rcode != dns.RcodeSuccess {
		return rcode
	}

	a.update.Lock()
	defer a.update.Unlock()

	ops, rcode := a.prepare(req)
	if rcode != dns.RcodeSuccess || len(ops) == 0 {
		return rcode
	}

	a.data.mu.RLock()
	soa := dns.Copy(a.data.soaLocked()).(*dns.SOA)
	a.data.mu.RUnlock()
	soa.Serial++

	// the zone only changes once the journal holds the update
	if err := a.persist(ctx, soa.Serial, append(ops, journalOp{op: opAdd, rr: soa})); err != nil {
		zlog.Error("Journal write failed", "zone", a.info.Origin, "journal", a.journalPath, "error", err.Error())
		return dns.RcodeServerFailure
	}

	a.data.mu.Lock()
	for _, op := range ops {
		a.data.apply(op)
	}
	a.data.insert(soa)
	a.data.mu.Unlock()

	if err := a.resign(); err != nil {
		zlog.Error("Zone re-signing failed", "zone", a.info.Origin, "error", err.Error())
		return dns.RcodeServerFailure
	}

	zlog.Info("Zone updated", "zone", a.info.Origin, "serial", soa.Serial, "changes", len(ops))

	return dns.RcodeSuccess
}

// authorize checks the SIG(0) signature closing the request against the
// update keys registered for its signer.
func (a *JournalAuthority) authorize(req *dns.Msg, wire []byte) int {
	if len(req.Extra) == 0 || wire == nil {
		return dns.RcodeRefused
	}

	sig, ok := req.Extra[len(req.Extra)-1].(*dns.SIG)
	if !ok {
		return dns.RcodeRefused
	}

	now := time.Now()
	if !sig.ValidityPeriod(now.Add(-maxSigSkew)) && !sig.ValidityPeriod(now.Add(maxSigSkew)) {
		return dns.RcodeNotAuth
	}

	for _, key := range a.keysFor(sig.SignerName) {
		if key.KeyTag() != sig.KeyTag || key.Algorithm != sig.Algorithm {
			continue
		}
		if err := sig.Verify(key, wire); err == nil {
			return dns.RcodeSuccess
		}
	}

	return dns.RcodeNotAuth
}

// prepare checks the prerequisites and turns the update section into
// journal operations, without touching the zone.
func (a *JournalAuthority) prepare(req *dns.Msg) ([]journalOp, int) {
	z := a.data

	z.mu.RLock()
	defer z.mu.RUnlock()

	for _, rr := range req.Answer {
		if rcode := z.prerequisite(rr); rcode != dns.RcodeSuccess {
			return nil, rcode
		}
	}

	var ops []journalOp
	for _, rr := range req.Ns {
		h := rr.Header()
		name := dns.CanonicalName(h.Name)
		if !dns.IsSubDomain(z.origin, name) {
			return nil, dns.RcodeNotZone
		}

		apex := name == z.origin && (h.Rrtype == dns.TypeSOA || h.Rrtype == dns.TypeNS)

		switch h.Class {
		case dns.ClassINET:
			if h.Rrtype == dns.TypeANY || h.Rrtype == dns.TypeRRSIG || h.Rrtype == dns.TypeNSEC {
				return nil, dns.RcodeFormatError
			}
			if h.Rrtype == dns.TypeSOA {
				continue
			}
			ops = append(ops, journalOp{op: opAdd, rr: dns.Copy(rr)})

		case dns.ClassANY:
			switch {
			case h.Rrtype == dns.TypeANY:
				ops = append(ops, journalOp{op: opDelName, name: name, rrtype: dns.TypeANY})
			case !apex:
				ops = append(ops, journalOp{op: opDelRRset, name: name, rrtype: h.Rrtype})
			}

		case dns.ClassNONE:
			if h.Rrtype == dns.TypeSOA {
				continue
			}
			del := dns.Copy(rr)
			del.Header().Class = dns.ClassINET
			ops = append(ops, journalOp{op: opDelete, rr: del})

		default:
			return nil, dns.RcodeFormatError
		}
	}

	return ops, dns.RcodeSuccess
}

func (z *zoneData) prerequisite(rr dns.RR) int {
	h := rr.Header()
	name := dns.CanonicalName(h.Name)
	if !dns.IsSubDomain(z.origin, name) {
		return dns.RcodeNotZone
	}

	types, used := z.records[name]

	switch h.Class {
	case dns.ClassANY:
		if h.Rrtype == dns.TypeANY {
			if !used {
				return dns.RcodeNameError
			}
		} else if len(types[h.Rrtype]) == 0 {
			return dns.RcodeNXRrset
		}

	case dns.ClassNONE:
		if h.Rrtype == dns.TypeANY {
			if used {
				return dns.RcodeYXDomain
			}
		} else if len(types[h.Rrtype]) > 0 {
			return dns.RcodeYXRrset
		}

	case dns.ClassINET:
		for _, existing := range types[h.Rrtype] {
			if dns.IsDuplicate(existing, rr) {
				return dns.RcodeSuccess
			}
		}
		return dns.RcodeNXRrset

	default:
		return dns.RcodeFormatError
	}

	return dns.RcodeSuccess
}

// apply runs one journal operation; the caller holds the write lock.
func (z *zoneData) apply(op journalOp) {
	switch op.op {
	case opAdd:
		if op.rr.Header().Rrtype == dns.TypeCNAME || len(z.records[dns.CanonicalName(op.rr.Header().Name)][dns.TypeCNAME]) == 0 {
			z.insert(op.rr)
		}
	case opDelete:
		z.delete(op.rr)
	case opDelRRset:
		z.deleteRRset(op.name, op.rrtype)
	case opDelName:
		z.deleteRRset(op.name, dns.TypeANY)
	}
}

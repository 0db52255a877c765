package storage

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
)

// EmergencyStore implements safety.StatePersister against a single row in
// emergency_state: the whole in-flight set is small (spec.md §4.8 bounds
// position size), so it is serialized as one JSON blob rather than one row
// per transaction, which keeps Save/Load/Clear each a single statement.
type EmergencyStore struct {
	db *DB
}

// NewEmergencyStore creates an EmergencyStore over db. The caller must have
// run InitSchema first.
func NewEmergencyStore(db *DB) *EmergencyStore {
	return &EmergencyStore{db: db}
}

type persistedTx struct {
	Hash        string `json:"hash"`
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver,omitempty"`
	Value       string `json:"value"`
	GasPrice    string `json:"gas_price,omitempty"`
	MaxFee      string `json:"max_fee,omitempty"`
	PriorityFee string `json:"priority_fee,omitempty"`
	GasLimit    uint64 `json:"gas_limit"`
	Nonce       uint64 `json:"nonce"`
	Input       string `json:"input"`
	ProtocolTag string `json:"protocol_tag"`
	Token       string `json:"token"`
	FirstSeen   int64  `json:"first_seen"`
}

func toPersisted(tx domain.PendingTx) persistedTx {
	p := persistedTx{
		Hash:        hex.EncodeToString(tx.Hash[:]),
		Sender:      tx.Sender.Hex(),
		Value:       bigString(tx.Value),
		GasLimit:    tx.GasLimit,
		Nonce:       tx.Nonce,
		Input:       hex.EncodeToString(tx.Input),
		ProtocolTag: tx.ProtocolTag,
		Token:       tx.Token,
		FirstSeen:   tx.FirstSeen.Unix(),
	}
	if tx.Receiver != nil {
		p.Receiver = tx.Receiver.Hex()
	}
	if tx.Gas.MaxFee != nil {
		p.MaxFee = bigString(tx.Gas.MaxFee)
		p.PriorityFee = bigString(tx.Gas.PriorityFee)
	} else {
		p.GasPrice = bigString(tx.Gas.GasPrice)
	}
	return p
}

func (p persistedTx) toDomain() (domain.PendingTx, error) {
	var tx domain.PendingTx

	hashBytes, err := hex.DecodeString(p.Hash)
	if err != nil || len(hashBytes) != len(tx.Hash) {
		return tx, fmt.Errorf("storage: malformed persisted hash %q", p.Hash)
	}
	copy(tx.Hash[:], hashBytes)

	sender, err := parseAddr(p.Sender)
	if err != nil {
		return tx, err
	}
	tx.Sender = sender

	if p.Receiver != "" {
		receiver, err := parseAddr(p.Receiver)
		if err != nil {
			return tx, err
		}
		tx.Receiver = &receiver
	}

	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok {
		return tx, fmt.Errorf("storage: malformed persisted value %q", p.Value)
	}
	tx.Value = value

	if p.MaxFee != "" {
		maxFee, ok := new(big.Int).SetString(p.MaxFee, 10)
		if !ok {
			return tx, fmt.Errorf("storage: malformed persisted max_fee %q", p.MaxFee)
		}
		priorityFee, ok := new(big.Int).SetString(p.PriorityFee, 10)
		if !ok {
			return tx, fmt.Errorf("storage: malformed persisted priority_fee %q", p.PriorityFee)
		}
		tx.Gas = domain.GasPricing{MaxFee: maxFee, PriorityFee: priorityFee}
	} else {
		gasPrice, ok := new(big.Int).SetString(p.GasPrice, 10)
		if !ok {
			return tx, fmt.Errorf("storage: malformed persisted gas_price %q", p.GasPrice)
		}
		tx.Gas = domain.GasPricing{GasPrice: gasPrice}
	}

	input, err := hex.DecodeString(p.Input)
	if err != nil {
		return tx, fmt.Errorf("storage: malformed persisted input: %w", err)
	}
	tx.Input = input
	tx.GasLimit = p.GasLimit
	tx.Nonce = p.Nonce
	tx.ProtocolTag = p.ProtocolTag
	tx.Token = p.Token
	tx.FirstSeen = time.Unix(p.FirstSeen, 0).UTC()
	return tx, nil
}

func parseAddr(s string) (domain.Address, error) {
	var addr domain.Address
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil || len(b) != len(addr) {
		return addr, fmt.Errorf("storage: malformed persisted address %q", s)
	}
	copy(addr[:], b)
	return addr, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// SaveEmergencyState persists the in-flight set as of the moment the
// supervisor entered the emergency procedure (spec.md §4.8).
func (e *EmergencyStore) SaveEmergencyState(txs []domain.PendingTx) error {
	persisted := make([]persistedTx, 0, len(txs))
	for _, tx := range txs {
		persisted = append(persisted, toPersisted(tx))
	}
	payload, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("storage: marshal emergency state: %w", err)
	}

	_, err = e.db.conn.Exec(
		`INSERT INTO emergency_state (id, payload, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("storage: save emergency state: %w", err)
	}
	return nil
}

// LoadEmergencyState returns the persisted in-flight set, if any. found is
// false if the process has never entered emergency mode (or it was
// cleared), which is the normal, expected case on a clean restart.
func (e *EmergencyStore) LoadEmergencyState() ([]domain.PendingTx, bool, error) {
	var payload string
	err := e.db.conn.QueryRow(`SELECT payload FROM emergency_state WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: load emergency state: %w", err)
	}

	var persisted []persistedTx
	if err := json.Unmarshal([]byte(payload), &persisted); err != nil {
		return nil, false, fmt.Errorf("storage: unmarshal emergency state: %w", err)
	}

	txs := make([]domain.PendingTx, 0, len(persisted))
	for _, p := range persisted {
		tx, err := p.toDomain()
		if err != nil {
			return nil, false, err
		}
		txs = append(txs, tx)
	}
	return txs, true, nil
}

// ClearEmergencyState deletes the persisted state once recovery completes.
func (e *EmergencyStore) ClearEmergencyState() error {
	_, err := e.db.conn.Exec(`DELETE FROM emergency_state WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("storage: clear emergency state: %w", err)
	}
	return nil
}

package badgerdb

import (
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/tapgate/tapgate/internal/core/domain"
	"github.com/tapgate/tapgate/internal/core/ports"
	dbtypes "github.com/tapgate/tapgate/internal/infrastructure/db/types"
	"github.com/timshannon/badgerhold/v4"
)

const settlementStoreDir = "settlement"

// repoManager backs all settlement stores with one badger database so the
// transaction gate can span invoices, payments and balances atomically.
type repoManager struct {
	store    *badgerhold.Store
	invoices dbtypes.InvoiceStore
	payments dbtypes.PaymentStore
	balances dbtypes.BalanceStore
	gate     ports.TxGate
}

// NewRepoManager expects a base directory and an optional badger logger. An
// empty base directory opens an in-memory store.
func NewRepoManager(config ...interface{}) (ports.RepoManager, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, settlementStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement store: %s", err)
	}

	return &repoManager{
		store:    store,
		invoices: NewInvoiceRepository(store),
		payments: NewPaymentRepository(store),
		balances: NewBalanceRepository(store),
		gate:     newTxGate(store),
	}, nil
}

func (m *repoManager) Invoices() domain.InvoiceRepository {
	return m.invoices
}

func (m *repoManager) Payments() domain.PaymentRepository {
	return m.payments
}

func (m *repoManager) Balances() domain.BalanceRepository {
	return m.balances
}

func (m *repoManager) Gate() ports.TxGate {
	return m.gate
}

func (m *repoManager) Close() {
	m.store.Close()
}

package mappings

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads and maintains tenant account mappings.
type Repository interface {
	Get(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error)
	List(ctx context.Context, tenantID int64, module string) ([]AccountMapping, error)
	Upsert(ctx context.Context, m AccountMapping) (AccountMapping, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a pgx backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, tenantID int64, module, key string) (AccountMapping, error) {
	if module == "" || key == "" {
		return AccountMapping{}, errors.New("accounting: module and key required")
	}
	var mapping AccountMapping
	err := r.db.QueryRow(ctx, `SELECT tenant_id, module, key, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1 AND module=$2 AND key=$3`, tenantID, strings.ToUpper(module), strings.ToUpper(key)).
		Scan(&mapping.TenantID, &mapping.Module, &mapping.Key, &mapping.AccountID, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, ErrMappingNotFound
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

func (r *repository) List(ctx context.Context, tenantID int64, module string) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT tenant_id, module, key, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1 AND module=$2 ORDER BY key`, tenantID, strings.ToUpper(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.TenantID, &m.Module, &m.Key, &m.AccountID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Upsert points a role at an account. The account must belong to the tenant.
func (r *repository) Upsert(ctx context.Context, m AccountMapping) (AccountMapping, error) {
	m.Module = strings.ToUpper(m.Module)
	m.Key = strings.ToUpper(m.Key)
	if err := Validate(m); err != nil {
		return AccountMapping{}, err
	}
	err := r.db.QueryRow(ctx, `INSERT INTO account_mappings (tenant_id, module, key, account_id)
SELECT $1, $2, $3, a.id FROM accounts a WHERE a.id=$4 AND a.tenant_id=$1
ON CONFLICT (tenant_id, module, key) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()
RETURNING created_at, updated_at`, m.TenantID, m.Module, m.Key, m.AccountID).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, errors.New("accounting: mapped account not found for tenant")
		}
		return AccountMapping{}, err
	}
	return m, nil
}

// Validate checks a mapping before it is stored.
func Validate(m AccountMapping) error {
	if m.TenantID == 0 {
		return errors.New("accounting: tenant required")
	}
	if m.AccountID == 0 {
		return errors.New("accounting: account required")
	}
	roles := KnownRoles(m.Module)
	if roles == nil {
		return errors.New("accounting: unknown mapping module " + m.Module)
	}
	if !slices.Contains(roles, m.Key) {
		return errors.New("accounting: unknown mapping role " + m.Key)
	}
	return nil
}

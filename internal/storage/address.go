package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/domain/models"
)

// AddressStorage - чтение адресов из профиля.
type AddressStorage interface {
	GetAddressByID(ctx context.Context, id uuid.UUID) (*models.Address, error)
	// GetDefaultAddress - адрес отправки продавца (основной, иначе самый ранний).
	GetDefaultAddress(ctx context.Context, userID uuid.UUID) (*models.Address, error)
}

type addressRepository struct {
	db *sql.DB
}

func NewAddressRepository(db *sql.DB) AddressStorage {
	return &addressRepository{db: db}
}

const addressColumns = "id, user_id, recipient_name, phone, street, number, complement, neighborhood, city, state, zipcode"

func (r *addressRepository) GetAddressByID(ctx context.Context, id uuid.UUID) (*models.Address, error) {
	return scanAddress(r.db.QueryRowContext(ctx, "SELECT "+addressColumns+" FROM addresses WHERE id = $1", id))
}

func (r *addressRepository) GetDefaultAddress(ctx context.Context, userID uuid.UUID) (*models.Address, error) {
	query := "SELECT " + addressColumns + " FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, created_at LIMIT 1"
	return scanAddress(r.db.QueryRowContext(ctx, query, userID))
}

func scanAddress(row rowScanner) (*models.Address, error) {
	a := &models.Address{}
	var phone, complement sql.NullString
	err := row.Scan(
		&a.ID, &a.UserID, &a.RecipientName, &phone, &a.Street, &a.Number, &complement,
		&a.Neighborhood, &a.City, &a.State, &a.Zipcode,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAddressNotFound
		}
		return nil, err
	}
	a.Phone = phone.String
	a.Complement = complement.String
	return a, nil
}

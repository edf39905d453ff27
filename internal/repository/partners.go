package repository

import (
	"context"
	"errors"
	"fmt"

	"busline/backend/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrPartnerNotFound = errors.New("partner not found")

func (r *Repository) UpsertPartner(ctx context.Context, p models.PartnerContact) error {
	_, err := r.q(ctx).Exec(ctx, `
INSERT INTO partners (id, company_name, phone, email)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	company_name = EXCLUDED.company_name,
	phone = EXCLUDED.phone,
	email = EXCLUDED.email;`, p.ID, p.CompanyName, p.Phone, p.Email)
	return err
}

func (r *Repository) PartnerContact(ctx context.Context, partnerID string) (models.PartnerContact, error) {
	var out models.PartnerContact
	err := r.q(ctx).QueryRow(ctx, `SELECT id, company_name, phone, email FROM partners WHERE id = $1`, partnerID).
		Scan(&out.ID, &out.CompanyName, &out.Phone, &out.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, fmt.Errorf("%w: %s", ErrPartnerNotFound, partnerID)
	}
	return out, err
}

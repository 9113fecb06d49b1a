package sqlstore

import (
	"database/sql"
	"errors"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
)

const userColumns = "id, username, password, public_key, signature, donation_amount"

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var donation int64
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.PublicKey, &u.Signature, &donation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.IsDonor = donation > 0
	return &u, nil
}

func (s *SQLStore) CreateUser(user *models.User) error {
	query := s.rebind("INSERT INTO users (username, password, public_key, signature) VALUES (?, ?, ?, ?) RETURNING id")
	return s.db.QueryRow(query, user.Username, user.Password, user.PublicKey, user.Signature).Scan(&user.ID)
}

func (s *SQLStore) GetUserByUsername(username string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE username = ?")
	return scanUser(s.db.QueryRow(query, username))
}

func (s *SQLStore) GetUserByID(id int64) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	return scanUser(s.db.QueryRow(query, id))
}

func (s *SQLStore) SearchUsers(queryStr string) ([]models.User, error) {
	query := s.rebind("SELECT id, username, public_key, signature, donation_amount FROM users WHERE username LIKE ? LIMIT 10")
	rows, err := s.db.Query(query, "%"+queryStr+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var donation int64
		if err := rows.Scan(&u.ID, &u.Username, &u.PublicKey, &u.Signature, &donation); err != nil {
			return nil, err
		}
		u.IsDonor = donation > 0
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) SetSignature(userID int64, signature string) error {
	query := s.rebind("UPDATE users SET signature = ? WHERE id = ?")
	_, err := s.db.Exec(query, signature, userID)
	return err
}

func (s *SQLStore) AddDonation(userID int64, amount int64) error {
	query := s.rebind("UPDATE users SET donation_amount = donation_amount + ? WHERE id = ?")
	_, err := s.db.Exec(query, amount, userID)
	return err
}

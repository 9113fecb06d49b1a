package sqlstore

import "whisperchat/internal/models"

// Friendships are stored as a normalized pair (user_a < user_b) so each pair
// occupies exactly one row.
func orderPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

func (s *SQLStore) AddFriend(a, b int64) error {
	a, b = orderPair(a, b)
	query := s.rebind("INSERT INTO friends (user_a, user_b) VALUES (?, ?) ON CONFLICT (user_a, user_b) DO NOTHING")
	_, err := s.db.Exec(query, a, b)
	return err
}

func (s *SQLStore) RemoveFriend(a, b int64) error {
	a, b = orderPair(a, b)
	query := s.rebind("DELETE FROM friends WHERE user_a = ? AND user_b = ?")
	_, err := s.db.Exec(query, a, b)
	return err
}

func (s *SQLStore) AreFriends(a, b int64) (bool, error) {
	a, b = orderPair(a, b)
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM friends WHERE user_a = ? AND user_b = ?)")
	err := s.db.QueryRow(query, a, b).Scan(&exists)
	return exists, err
}

func (s *SQLStore) GetFriends(userID int64) ([]models.User, error) {
	query := s.rebind(`
		SELECT u.id, u.username, u.public_key, u.signature, u.donation_amount
		FROM users u
		JOIN friends f ON (f.user_a = u.id AND f.user_b = ?) OR (f.user_b = u.id AND f.user_a = ?)
		ORDER BY u.username
	`)
	rows, err := s.db.Query(query, userID, userID)
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

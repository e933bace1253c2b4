package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Subscription{},
		&Business{},
		&BusinessArtist{},
		&JoinRequest{},
		&Line{},
		&LineJoiner{},
		&Appointment{},
		&Payment{},
		&Review{},
		&OTP{},
	}
}

package model

// All returns every model managed by the schema migration.
func All() []any {
	return []any{
		&User{},
		&Hospital{},
		&DonationCenter{},
		&Drone{},
		&Delivery{},
		&BloodBag{},
		&DeliveryParticipation{},
		&Notification{},
		&PushSubscription{},
	}
}

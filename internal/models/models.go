package models

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Agent{},
		&Submolt{},
		&Subscription{},
		&Follow{},
		&Post{},
		&Comment{},
		&Vote{},
	}
}

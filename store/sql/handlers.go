package sqlstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// identifiedHandlers builds repository handlers for records keyed by a
// string uuid column named id.
func identifiedHandlers[T any](
	newRecord func() T,
	getID func(T) string,
	setID func(T, string),
) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			return parseUUID(getID(record))
		},
		SetID: func(record T, id uuid.UUID) {
			setID(record, id.String())
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			return strings.TrimSpace(getID(record))
		},
	}
}

func oauthTokenHandlers() repository.ModelHandlers[*oauthTokenRecord] {
	return identifiedHandlers(
		func() *oauthTokenRecord { return &oauthTokenRecord{} },
		func(r *oauthTokenRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *oauthTokenRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func webhookSecretHandlers() repository.ModelHandlers[*webhookSecretRecord] {
	return identifiedHandlers(
		func() *webhookSecretRecord { return &webhookSecretRecord{} },
		func(r *webhookSecretRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *webhookSecretRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func subscriptionHandlers() repository.ModelHandlers[*subscriptionRecord] {
	return identifiedHandlers(
		func() *subscriptionRecord { return &subscriptionRecord{} },
		func(r *subscriptionRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *subscriptionRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func eventHandlers() repository.ModelHandlers[*eventRecord] {
	return identifiedHandlers(
		func() *eventRecord { return &eventRecord{} },
		func(r *eventRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *eventRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func dispatchHandlers() repository.ModelHandlers[*dispatchRecord] {
	return identifiedHandlers(
		func() *dispatchRecord { return &dispatchRecord{} },
		func(r *dispatchRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *dispatchRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func dispatchAttemptHandlers() repository.ModelHandlers[*dispatchAttemptRecord] {
	return identifiedHandlers(
		func() *dispatchAttemptRecord { return &dispatchAttemptRecord{} },
		func(r *dispatchAttemptRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *dispatchAttemptRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func notificationHandlers() repository.ModelHandlers[*notificationRecord] {
	return identifiedHandlers(
		func() *notificationRecord { return &notificationRecord{} },
		func(r *notificationRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *notificationRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

func auditLogHandlers() repository.ModelHandlers[*auditLogRecord] {
	return identifiedHandlers(
		func() *auditLogRecord { return &auditLogRecord{} },
		func(r *auditLogRecord) string {
			if r == nil {
				return ""
			}
			return r.ID
		},
		func(r *auditLogRecord, id string) {
			if r != nil {
				r.ID = id
			}
		},
	)
}

// newRepository wires a repository and validates its handlers.
func newRepository[T any](db *bun.DB, name string, handlers repository.ModelHandlers[T]) (repository.Repository[T], error) {
	repo := repository.NewRepository[T](db, handlers)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return repo, nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/paperless-ai-queue/internal/core/domain"
)

type BotRepository struct {
	db *sql.DB
}

func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db}
}

func (r *BotRepository) GetByID(ctx context.Context, id string) (*domain.AIBot, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT b.id, b.name, b.system_prompt, b.response_language,
	p.id, p.kind, p.model, p.api_key_encrypted, p.base_url
FROM ai_bots b
JOIN ai_providers p ON p.id = b.provider_id
WHERE b.id = $1
`, id)

	var bot domain.AIBot
	var language sql.NullString
	var kind string
	err := row.Scan(
		&bot.ID, &bot.Name, &bot.SystemPrompt, &language,
		&bot.Provider.ID, &kind, &bot.Provider.Model, &bot.Provider.EncryptedAPIKey, &bot.Provider.BaseURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get bot", fmt.Errorf("bot %s", id))
		}
		return nil, persistenceError("get bot", err)
	}

	bot.Provider.Kind = domain.ProviderKind(kind)
	bot.ResponseLanguage = domain.LanguageDocument
	if language.Valid && language.String != "" {
		bot.ResponseLanguage = domain.ResponseLanguage(language.String)
	}
	return &bot, nil
}

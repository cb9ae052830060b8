package taskfactory

import (
	"time"

	"github.com/shaiso/Conductor/internal/domain"
)

// Blueprint — спецификация одного task внутри формы заявки.
type Blueprint struct {
	// Role — роль агента.
	Role domain.AgentRole

	// Key — машинный ключ, уникальный внутри заявки.
	Key string

	// Name — человекочитаемое имя.
	Name string

	// Sequence — порядковый номер в пайплайне.
	Sequence int

	// DependsOn — ключи prerequisite tasks.
	DependsOn []string

	// Timeout — лимит выполнения.
	Timeout time.Duration

	// MaxRetries — бюджет повторов (0 — использовать default).
	MaxRetries int
}

// Таймауты по умолчанию. Агентные tasks быстрые, рендер у провайдера
// может занимать десятки минут.
const (
	agentTimeout  = 10 * time.Minute
	voiceTimeout  = 15 * time.Minute
	renderTimeout = 30 * time.Minute
	qaTimeout     = 10 * time.Minute
)

// defaultBlueprints — три канонические формы заявки.
func defaultBlueprints() map[domain.RequestType][]Blueprint {
	return map[domain.RequestType][]Blueprint{
		domain.RequestTypeImage: {
			{Role: domain.RoleExecutive, Key: "concept", Name: "Campaign concept", Sequence: 1, Timeout: agentTimeout},
			{Role: domain.RoleStrategist, Key: "strategy", Name: "Content strategy", Sequence: 2, Timeout: agentTimeout},
			{Role: domain.RoleProducer, Key: "render", Name: "Image render", Sequence: 3, DependsOn: []string{"strategy"}, Timeout: renderTimeout},
			{Role: domain.RoleQA, Key: "review", Name: "Quality review", Sequence: 4, DependsOn: []string{"render"}, Timeout: qaTimeout},
		},
		domain.RequestTypeVideo: {
			{Role: domain.RoleExecutive, Key: "concept", Name: "Campaign concept", Sequence: 1, Timeout: agentTimeout},
			{Role: domain.RoleStrategist, Key: "strategy", Name: "Content strategy", Sequence: 2, Timeout: agentTimeout},
			{Role: domain.RoleCopywriter, Key: "script", Name: "Video script", Sequence: 3, DependsOn: []string{"strategy"}, Timeout: agentTimeout},
			{Role: domain.RoleProducer, Key: "render", Name: "Video render", Sequence: 4, DependsOn: []string{"strategy", "script"}, Timeout: renderTimeout},
			{Role: domain.RoleQA, Key: "review", Name: "Quality review", Sequence: 5, DependsOn: []string{"render"}, Timeout: qaTimeout},
		},
		domain.RequestTypeVideoVoice: {
			{Role: domain.RoleExecutive, Key: "concept", Name: "Campaign concept", Sequence: 1, Timeout: agentTimeout},
			{Role: domain.RoleStrategist, Key: "strategy", Name: "Content strategy", Sequence: 2, Timeout: agentTimeout},
			{Role: domain.RoleCopywriter, Key: "script", Name: "Video script", Sequence: 3, DependsOn: []string{"strategy"}, Timeout: agentTimeout},
			{Role: domain.RoleVoice, Key: "voiceover", Name: "Voiceover", Sequence: 4, DependsOn: []string{"script"}, Timeout: voiceTimeout},
			{Role: domain.RoleProducer, Key: "render", Name: "Video render", Sequence: 5, DependsOn: []string{"script", "voiceover"}, Timeout: renderTimeout},
			{Role: domain.RoleQA, Key: "review", Name: "Quality review", Sequence: 6, DependsOn: []string{"render"}, Timeout: qaTimeout},
		},
	}
}

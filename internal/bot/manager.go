// Package bot implements the Telegram front-end: per-user throttling,
// anonymized logging, greeting and follow-up handling, and the dispatch
// between database answers and model-generated ones.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/unsafisica/unsabot/internal/client"
	"github.com/unsafisica/unsabot/internal/ratelimit"
	"github.com/unsafisica/unsabot/internal/retriever"
)

// minMessageInterval is the duplicate-guard spacing between messages of
// the same user. Messages arriving faster are silently dropped.
const minMessageInterval = 1500 * time.Millisecond

// maxTrackedSenders bounds the duplicate-guard map.
const maxTrackedSenders = 4096

// Canned replies.
const (
	rateLimitedReply = "⏳ Has excedido el límite de solicitudes. " +
		"Por favor, espera unos minutos antes de volver a intentarlo."

	cannedGreeting = "👋 Hola, soy el Asistente UNSA.\n\n" +
		"Podés preguntarme sobre becas, carreras, inscripciones o trámites.\n" +
		"Usá /help para ver los comandos."

	noInformationReply = "No tengo información específica sobre eso.\nVisitá https://www.unsa.edu.ar"
)

// greetings are the tokens that mark a message as a plain salutation.
var greetings = map[string]bool{
	"hola":    true,
	"buenas":  true,
	"buen":    true,
	"hey":     true,
	"saludos": true,
}

var nonWordOrSpace = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// KnowledgeSource is the retrieval dependency of the Manager.
// *retriever.Retriever satisfies it; tests substitute fakes.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, query string, limit int) (string, []retriever.Result, retriever.Mode)
	Connected() bool
	Stats() retriever.Stats
}

// Generator is the inference dependency. CallGeneration returns "" when
// the model is unavailable; the Manager degrades to database answers.
type Generator interface {
	CallGeneration(ctx context.Context, prompt, userID string) string
	Health(ctx context.Context) (*client.HealthSnapshot, error)
}

// Reply is one outgoing message. An empty Text means the message was
// deliberately dropped (duplicate-guard) and nothing should be sent.
type Reply struct {
	Text     string
	Markdown bool
}

// ManagerConfig carries the knobs the Manager surfaces in its replies
// and gates.
type ManagerConfig struct {
	RateWindow     time.Duration
	RateMax        int
	RetrieveLimit  int
	RequestTimeout time.Duration
	Debug          bool
}

// Manager owns the per-message decision flow.
type Manager struct {
	source     KnowledgeSource
	llm        Generator
	limiter    *ratelimit.Limiter
	classifier Classifier
	cache      *conversationCache
	logger     *slog.Logger
	cfg        ManagerConfig

	startTime time.Time
	now       func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
	users    map[string]struct{}
	messages int
}

// NewManager wires the message-handling core.
func NewManager(source KnowledgeSource, llm Generator, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = 20
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RateMax <= 0 {
		cfg.RateMax = 15
	}
	return &Manager{
		source:     source,
		llm:        llm,
		limiter:    ratelimit.New(cfg.RateWindow, cfg.RateMax),
		classifier: NewTriggerClassifier(),
		cache:      newConversationCache(defaultCacheSize),
		logger:     logger,
		cfg:        cfg,
		startTime:  time.Now(),
		now:        time.Now,
		lastSeen:   make(map[string]time.Time),
		users:      make(map[string]struct{}),
	}
}

// SetClassifier swaps the explanatory-question classifier.
func (m *Manager) SetClassifier(c Classifier) { m.classifier = c }

// HandleMessage runs one user message through the full decision flow
// and returns the reply to send.
func (m *Manager) HandleMessage(ctx context.Context, userID int64, text string) Reply {
	msg := strings.TrimSpace(text)
	if msg == "" {
		return Reply{}
	}

	userHash := HashUserID(userID)

	if !m.limiter.Allow(userHash) {
		return Reply{Text: rateLimitedReply}
	}
	if !m.passesFloodGuard(userHash) {
		return Reply{}
	}

	m.recordUser(userHash)
	m.logger.Info("message received", "user", userHash, "text", AnonymizeMessage(msg))

	if isGreeting(msg) {
		return m.handleGreeting(ctx, msg, userHash)
	}

	explanatory := m.classifier.IsExplanatory(msg)

	// Follow-up shortcut: answer from the previous exchange's results
	// without touching the database.
	if explanatory {
		if prev, ok := m.cache.Get(userHash); ok {
			careers := filterByQuestion(prev, msg)
			if answer := m.llm.CallGeneration(ctx, buildCareersPrompt(msg, careers), userHash); answer != "" {
				return Reply{Text: answer}
			}
		}
	}

	contextText, results, mode := m.source.Retrieve(ctx, msg, m.cfg.RetrieveLimit)

	// Remember career-looking result sets for follow-ups.
	if looksLikeCareers(results) {
		m.cache.Put(userHash, results)
	}

	// The retrieval may have just filled the cache for this very question.
	if explanatory {
		if prev, ok := m.cache.Get(userHash); ok {
			careers := filterByQuestion(prev, msg)
			if answer := m.llm.CallGeneration(ctx, buildCareersPrompt(msg, careers), userHash); answer != "" {
				return Reply{Text: answer}
			}
		}
	}

	switch mode {
	case retriever.ModeFallback:
		return Reply{Text: noInformationReply}

	case retriever.ModeDirect:
		if explanatory {
			if answer := m.llm.CallGeneration(ctx, buildCareersPrompt(msg, results), userHash); answer != "" {
				return Reply{Text: answer}
			}
		}
		return Reply{Text: retriever.BuildDirectResponse(results)}

	default: // retriever.ModeLLM
		answer := m.llm.CallGeneration(ctx, buildAnswerPrompt(msg, contextText), userHash)
		if answer != "" {
			return Reply{Text: answer}
		}
		m.logger.Info("model unavailable, answering from database", "user", userHash)
		return Reply{
			Text: "⚠️ *Servicio de IA temporalmente no disponible*\n\n" +
				EscapeMarkdown(retriever.BuildDirectResponse(results)) +
				"\n\n_Información obtenida directamente de la base de datos_",
			Markdown: true,
		}
	}
}

func (m *Manager) handleGreeting(ctx context.Context, msg, userHash string) Reply {
	if answer := m.llm.CallGeneration(ctx, buildGreetingPrompt(msg), userHash); answer != "" {
		return Reply{Text: answer}
	}
	return Reply{Text: cannedGreeting}
}

// passesFloodGuard enforces the minimum spacing between messages of one
// user. Accepted messages refresh the timestamp.
func (m *Manager) passesFloodGuard(userHash string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastSeen[userHash]; ok && now.Sub(last) < minMessageInterval {
		return false
	}
	if len(m.lastSeen) >= maxTrackedSenders {
		m.pruneLastSeenLocked(now)
	}
	m.lastSeen[userHash] = now
	return true
}

// pruneLastSeenLocked drops timestamps old enough to be irrelevant to
// the guard. Caller holds m.mu.
func (m *Manager) pruneLastSeenLocked(now time.Time) {
	for hash, last := range m.lastSeen {
		if now.Sub(last) >= minMessageInterval {
			delete(m.lastSeen, hash)
		}
	}
}

func (m *Manager) recordUser(userHash string) {
	m.mu.Lock()
	m.users[userHash] = struct{}{}
	m.messages++
	m.mu.Unlock()
}

// isGreeting reports whether any token of the normalized message is a
// salutation.
func isGreeting(msg string) bool {
	norm := nonWordOrSpace.ReplaceAllString(strings.ToLower(msg), "")
	for _, token := range strings.Fields(norm) {
		if greetings[token] {
			return true
		}
	}
	return false
}

// filterByQuestion keeps cached fragments whose content shares a word
// with the question. Very short questions ("¿de qué se tratan?") keep
// everything; an empty filter falls back to the first three fragments.
func filterByQuestion(results []retriever.Result, question string) []retriever.Result {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(question)) {
		words[w] = struct{}{}
	}
	if len(words) < 4 {
		return results
	}

	var filtered []retriever.Result
	for _, r := range results {
		content := strings.ToLower(r.Content)
		for w := range words {
			if strings.Contains(content, w) {
				filtered = append(filtered, r)
				break
			}
		}
	}
	if len(filtered) == 0 {
		if len(results) > 3 {
			return results[:3]
		}
		return results
	}
	return filtered
}

// looksLikeCareers reports whether the result set mentions a career,
// which is what follow-up questions ask about.
func looksLikeCareers(results []retriever.Result) bool {
	for _, r := range results {
		if strings.Contains(r.Content, "Carrera") {
			return true
		}
	}
	return false
}

// Uptime returns how long the manager has been running.
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Welcome returns the /start reply.
func (m *Manager) Welcome() Reply {
	return Reply{
		Text: "👋 *Bienvenido al Asistente UNSA*\n\n" +
			"*¿En qué puedo ayudarte?*\n" +
			"• Carreras y programas de estudio\n" +
			"• Información sobre becas\n" +
			"• Fechas de inscripción\n" +
			"• Trámites administrativos\n" +
			"• Contactos y ubicaciones\n\n" +
			"*Comandos disponibles:*\n" +
			"/help – Ver todos los comandos\n" +
			"/stats – Estadísticas del bot\n" +
			"/diagnose – Estado del sistema\n\n" +
			"*Enlaces útiles:*\n" +
			"🔗 https://www.unsa.edu.ar\n" +
			"🔗 https://exactas.unsa.edu.ar",
		Markdown: true,
	}
}

// Help returns the /help reply.
func (m *Manager) Help() Reply {
	return Reply{
		Text: "🤖 *Asistente UNSA*\n\n" +
			"*Comandos disponibles:*\n" +
			"/start – Mensaje de bienvenida\n" +
			"/help – Esta ayuda\n" +
			"/stats – Estadísticas del bot\n" +
			"/diagnose – Estado del sistema\n\n" +
			"*También podés escribir tu consulta directamente.*\n" +
			"Ejemplos:\n" +
			"• \"¿Hay becas?\"\n" +
			"• \"Carreras de ingeniería\"\n" +
			"• \"Contacto de exactas\"\n" +
			"• \"Fechas de inscripción 2026\"",
		Markdown: true,
	}
}

// Stats returns the /stats reply.
func (m *Manager) Stats() Reply {
	rs := m.source.Stats()

	m.mu.Lock()
	users, messages := len(m.users), m.messages
	m.mu.Unlock()

	uptime := m.Uptime()
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	return Reply{
		Text: fmt.Sprintf("📊 *Estadísticas*\n\n"+
			"*Uptime:* %dh %dm\n"+
			"*Base de datos:*\n"+
			"• Consultas: %d\n"+
			"• Fragmentos: %d\n"+
			"• Errores: %d\n\n"+
			"*Usuarios:*\n"+
			"• Únicos: %d\n"+
			"• Mensajes: %d\n\n"+
			"*Rate Limit:* %d solicitudes por %d segundos",
			hours, minutes,
			rs.Queries, rs.Fragments, rs.Errors,
			users, messages,
			m.cfg.RateMax, int(m.cfg.RateWindow.Seconds())),
		Markdown: true,
	}
}

// Diagnose returns the /diagnose reply: store connectivity plus a live
// probe of the inference server's health endpoint.
func (m *Manager) Diagnose(ctx context.Context) Reply {
	rs := m.source.Stats()

	dbStatus := "🔴 Error"
	if m.source.Connected() {
		dbStatus = "🟢 Conectado"
	}

	iaStatus := m.probeInference(ctx)

	debugStatus := "⚫ OFF"
	if m.cfg.Debug {
		debugStatus = "🟢 ON"
	}

	return Reply{
		Text: fmt.Sprintf("🩺 *Diagnóstico del sistema*\n\n"+
			"*PostgreSQL:* %s\n"+
			"• Fragmentos: %d\n\n"+
			"*Servicio de IA:* %s\n\n"+
			"*Modo debug:* %s\n"+
			"*Rate limit:* %d solicitudes/%ds\n"+
			"*Timeout IA:* %ds",
			dbStatus, rs.Fragments, iaStatus, debugStatus,
			m.cfg.RateMax, int(m.cfg.RateWindow.Seconds()),
			int(m.cfg.RequestTimeout.Seconds())),
		Markdown: true,
	}
}

func (m *Manager) probeInference(ctx context.Context) string {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap, err := m.llm.Health(probeCtx)
	if err != nil {
		msg := err.Error()
		if len(msg) > 50 {
			msg = msg[:50]
		}
		return "🔴 Sin conexión: " + msg
	}
	return fmt.Sprintf("🟢 %s - %g%% cola", snap.Status, snap.QueueLoadPercent)
}

// auth.go — JWT middleware для аутентификации пользователей портала.
// Использует RS256 + JWKS провайдера идентификации.
// Claims: sub (ID пользователя), role (user или admin).
// Публичные endpoints (поиск, просмотр, скачивание) принимают запросы
// без токена: OptionalMiddleware пропускает анонимных пользователей.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	apierrors "github.com/bigkaa/dataportal/internal/api/errors"
	"github.com/bigkaa/dataportal/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyPrincipal — пользователь запроса в контексте.
const ContextKeyPrincipal contextKey = "principal"

// Claims — JWT claims портала.
// Роль берётся из claim "role", при его отсутствии — из realm_access.roles.
type Claims struct {
	jwt.RegisteredClaims
	Role        string       `json:"role,omitempty"`
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// EffectiveRole вычисляет роль пользователя. По умолчанию — user.
func (c *Claims) EffectiveRole() string {
	if model.IsValidRole(c.Role) {
		return c.Role
	}
	if c.RealmAccess != nil && lo.Contains(c.RealmAccess.Roles, model.RoleAdmin) {
		return model.RoleAdmin
	}
	return model.RoleUser
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint
	JWKSURL string
	// Путь к CA-сертификату (опционально)
	CACertPath string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient, err := buildHTTPClient(authCfg)
	if err != nil {
		return nil, err
	}

	if authCfg.CACertPath != "" {
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", authCfg.CACertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq — стартуем, даже если провайдер ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, authCfg.JWTLeeway, logger), nil
}

// buildHTTPClient создаёт HTTP-клиент с CA-сертификатом и таймаутом.
func buildHTTPClient(authCfg JWTAuthConfig) (*http.Client, error) {
	if authCfg.CACertPath == "" {
		return &http.Client{Timeout: authCfg.ClientTimeout}, nil
	}

	caCert, err := os.ReadFile(authCfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", authCfg.CACertPath, err)
	}
	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: authCfg.ClientTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: caCertPool, MinVersion: tls.VersionTLS12},
		},
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware требует валидный Bearer token.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return j.handler(true)
}

// OptionalMiddleware пропускает запросы без Authorization как анонимные.
// Присланный, но невалидный токен — 401.
func (j *JWTAuth) OptionalMiddleware() func(http.Handler) http.Handler {
	return j.handler(false)
}

func (j *JWTAuth) handler(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if required {
					apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			principal, msg := j.authenticate(r, authHeader)
			if msg != "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate проверяет токен. При ошибке возвращает сообщение для клиента.
func (j *JWTAuth) authenticate(r *http.Request, authHeader string) (model.Principal, string) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return model.Principal{}, "Неверный формат Authorization: ожидается Bearer <token>"
	}
	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return model.Principal{}, "Пустой Bearer token"
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	)
	if err != nil || !token.Valid {
		j.logger.Debug("JWT валидация не пройдена",
			slog.Any("error", err),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return model.Principal{}, "Невалидный или просроченный токен"
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return model.Principal{}, "Отсутствует sub в токене"
	}
	return model.Principal{UserID: subject, Role: claims.EffectiveRole()}, ""
}

// RequireAdmin пропускает только администраторов.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p.IsAnonymous() {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !p.IsAdmin() {
				apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext извлекает пользователя запроса.
// Для анонимного запроса возвращает пустой Principal.
func PrincipalFromContext(ctx context.Context) model.Principal {
	p, _ := ctx.Value(ContextKeyPrincipal).(model.Principal)
	return p
}

// WithPrincipal помещает пользователя в контекст.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

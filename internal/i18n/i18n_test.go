package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pavelanni/checkin/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Check-in" {
		t.Errorf("T(AppTitle) = %q, want 'Check-in'", got)
	}

	got = T(ctx, "NoCheckins")
	if got != "No check-ins have been completed." {
		t.Errorf("T(NoCheckins) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "AppTitle")
	if got != "Самочувствие" {
		t.Errorf("T(AppTitle) = %q, want 'Самочувствие'", got)
	}

	got = Td(ctx, "SessionN", map[string]any{"N": 2})
	if got != "Сессия 2" {
		t.Errorf("Td(SessionN, N=2) = %q, want 'Сессия 2'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "SessionsCompleted", 1)
	if got1 != "1 check-in completed." {
		t.Errorf("Tp(SessionsCompleted, 1) = %q, want '1 check-in completed.'", got1)
	}

	got5 := Tp(ctx, "SessionsCompleted", 5)
	if got5 != "5 check-ins completed." {
		t.Errorf("Tp(SessionsCompleted, 5) = %q, want '5 check-ins completed.'", got5)
	}
}

func TestRussianPlural(t *testing.T) {
	ctx := initLang(t, "ru")

	tests := []struct {
		count int
		want  string
	}{
		{1, "Заполнена 1 анкета."},
		{3, "Заполнено 3 анкеты."},
		{5, "Заполнено 5 анкет."},
	}
	for _, tt := range tests {
		if got := Tp(ctx, "SessionsCompleted", tt.count); got != tt.want {
			t.Errorf("Tp(SessionsCompleted, %d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestAnswerLabel(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		value int
		want  string
	}{
		{1, "Not at all"},
		{2, "Occasionally"},
		{3, "Sometimes"},
		{4, "Often"},
		{5, "All the time"},
		{0, "Unknown"},
		{6, "Unknown"},
	}
	for _, tt := range tests {
		if got := AnswerLabel(ctx, tt.value); got != tt.want {
			t.Errorf("AnswerLabel(%d) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestQuestionAndSeriesLabels(t *testing.T) {
	ctx := initLang(t, "en")

	if got := QuestionLabel(ctx)("q7"); got != "Question q7" {
		t.Errorf("QuestionLabel(q7) = %q", got)
	}

	sess := model.Session{ID: "s1", Date: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)}
	if got := SeriesLabel(ctx, false)(0, sess); got != "Session 1" {
		t.Errorf("SeriesLabel(0) = %q, want 'Session 1'", got)
	}
	if got := SeriesLabel(ctx, true)(2, sess); got != "Session 3 (05/03/24)" {
		t.Errorf("dated SeriesLabel(2) = %q, want 'Session 3 (05/03/24)'", got)
	}
}

func TestMiddlewareLanguage(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		name   string
		query  string
		accept string
		want   string
	}{
		{"default", "", "", "Check-in"},
		{"query param", "?lang=ru", "", "Самочувствие"},
		{"accept header", "", "ru-RU,ru;q=0.9", "Самочувствие"},
		{"unsupported falls back", "?lang=de", "", "Check-in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "AppTitle")
			}))
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("AppTitle = %q, want %q", got, tt.want)
			}
		})
	}
}

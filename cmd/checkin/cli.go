package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/checkin/internal/access"
	"github.com/pavelanni/checkin/internal/apiclient"
	"github.com/pavelanni/checkin/internal/export"
	appI18n "github.com/pavelanni/checkin/internal/i18n"
	"github.com/pavelanni/checkin/internal/model"
	"github.com/pavelanni/checkin/internal/results"
	"github.com/pavelanni/checkin/internal/store"
)

var errNotSignedIn = errors.New("not signed in: run `checkin login` first")

// cliSession is the remembered sign-in of the command line client.
type cliSession struct {
	db  *store.Store
	api *apiclient.Client
	id  *model.Identity
	cfg model.ClientConfig
}

// resolveAPIURL prefers the flag or environment, then the URL of the last
// sign-in, then the default.
func resolveAPIURL(v *viper.Viper, db *store.Store) (string, error) {
	if u := v.GetString("api-url"); u != "" {
		return u, nil
	}
	u, err := db.GetMetadata(store.MetaAPIURL)
	if err != nil {
		return "", fmt.Errorf("read api url: %w", err)
	}
	if u != "" {
		return u, nil
	}
	return defaultAPIURL, nil
}

// openSession loads the remembered identity and returns a context that
// carries it and a localizer.
func openSession(cmd *cobra.Command, v *viper.Viper) (*cliSession, context.Context, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	s := &cliSession{db: db}

	apiURL, err := resolveAPIURL(v, db)
	if err != nil {
		s.close()
		return nil, nil, err
	}
	if s.cfg, err = clientConfig(v, apiURL); err != nil {
		s.close()
		return nil, nil, err
	}
	if err := appI18n.Init(s.cfg.Lang); err != nil {
		s.close()
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}
	s.api = apiclient.New(apiURL)

	sid, err := db.GetMetadata(store.MetaCLISession)
	if err != nil {
		s.close()
		return nil, nil, fmt.Errorf("read session: %w", err)
	}
	if sid != "" {
		if s.id, err = db.LoadIdentity(sid); err != nil {
			s.close()
			return nil, nil, fmt.Errorf("load identity: %w", err)
		}
	}
	if s.id == nil {
		s.close()
		return nil, nil, errNotSignedIn
	}

	ctx := model.ContextWithIdentity(cmd.Context(), s.id)
	ctx = appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(s.cfg.Lang))
	return s, ctx, nil
}

func (s *cliSession) close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("close database", "error", err)
	}
}

// forget drops the remembered sign-in.
func (s *cliSession) forget() {
	if err := s.db.ClearIdentity(s.id.ID); err != nil {
		slog.Warn("clear identity", "error", err)
	}
	if err := s.db.DeleteMetadata(store.MetaCLISession); err != nil {
		slog.Warn("clear session metadata", "error", err)
	}
}

// upstream turns a rejected token into a prompt to sign in again.
func (s *cliSession) upstream(err error) error {
	if errors.Is(err, apiclient.ErrUnauthorized) {
		s.forget()
		return fmt.Errorf("session expired, run `checkin login` again: %w", err)
	}
	return err
}

func runLogin(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	password := v.GetString("password")
	if password == "" {
		return errors.New("password is required: set --password or CHECKIN_PASSWORD")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	apiURL, err := resolveAPIURL(v, db)
	if err != nil {
		return err
	}
	api := apiclient.New(apiURL)
	res, err := api.Login(cmd.Context(), model.Credentials{Email: v.GetString("email"), Password: password})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if old, err := db.GetMetadata(store.MetaCLISession); err == nil && old != "" {
		_ = db.ClearIdentity(old)
	}
	sid, err := db.SaveIdentity(&model.Identity{
		Token:       res.AccessToken,
		DeviceToken: res.DeviceToken,
		UserID:      res.UserID.String(),
		Role:        res.Role,
	})
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	if err := db.SetMetadata(store.MetaCLISession, sid); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := db.SetMetadata(store.MetaAPIURL, apiURL); err != nil {
		return fmt.Errorf("save api url: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", res.UserID, res.Role)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	s, ctx, err := openSession(cmd, v)
	if err != nil {
		return err
	}
	defer s.close()

	if v.GetBool("all") {
		if err := s.api.LogoutAll(ctx, s.id.UserID); err != nil {
			return fmt.Errorf("logout all: %w", s.upstream(err))
		}
		if _, err := s.db.ClearIdentitiesForUser(s.id.UserID); err != nil {
			slog.Warn("clear identities", "error", err)
		}
	} else if err := s.api.LogoutDevice(ctx); err != nil {
		slog.Warn("upstream logout failed", "error", err)
	}
	s.forget()

	fmt.Fprintln(cmd.OutOrStdout(), "signed out")
	return nil
}

// subjectsFor picks whose results to show. Clients may only ask for
// themselves; staff must name someone.
func subjectsFor(s *cliSession, requested []string) ([]string, error) {
	if len(requested) == 0 {
		if s.id.Role != model.RoleClient {
			return nil, errors.New("--client is required for clinicians and admins")
		}
		return []string{s.id.UserID}, nil
	}
	policy := access.Policy{AdminActsAsClinician: s.cfg.AdminActsAsClinician}
	for _, subject := range requested {
		if !policy.CanViewSubject(*s.id, subject) {
			return nil, fmt.Errorf("not allowed to view client %s", subject)
		}
	}
	return requested, nil
}

// subjectReport is one subject's computed results.
type subjectReport struct {
	subject   export.Subject
	report    *results.Report
	questions model.QuestionMap
	err       error
}

// collect computes reports for every subject, at most four at a time. A
// failure for one subject does not stop the others.
func collect(ctx context.Context, s *cliSession, subjects []string) ([]subjectReport, error) {
	scoring := results.Scoring{DefaultOffset: s.cfg.Offset, Offsets: s.cfg.Offsets}

	var questions model.QuestionMap
	if qs, err := s.api.QuestionsWithCache(ctx, s.db, string(model.DefaultQuestionnaireID)); err != nil {
		slog.Warn("question texts unavailable, using fallback labels", "error", err)
	} else {
		questions = model.NewQuestionMap(qs)
	}

	out := make([]subjectReport, len(subjects))
	var mu sync.Mutex
	var expired error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, subject := range subjects {
		g.Go(func() error {
			sr := subjectReport{subject: export.Subject{ID: subject}, questions: questions}
			if info, err := s.api.UserInfo(gctx, subject); err == nil {
				sr.subject.Name = info.DisplayName()
			}
			records, err := s.api.PastResponses(gctx, subject)
			if err != nil {
				if errors.Is(err, apiclient.ErrUnauthorized) {
					mu.Lock()
					expired = err
					mu.Unlock()
				}
				sr.err = fmt.Errorf("fetch responses: %w", err)
				out[i] = sr
				return nil
			}
			sr.report, sr.err = results.Compute(records, questions, results.Options{
				Scoring:       &scoring,
				QuestionLabel: appI18n.QuestionLabel(ctx),
				SeriesLabel:   appI18n.SeriesLabel(ctx, true),
			})
			out[i] = sr
			return nil
		})
	}
	_ = g.Wait()
	if expired != nil {
		return nil, s.upstream(expired)
	}
	return out, nil
}

func runResults(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	s, ctx, err := openSession(cmd, v)
	if err != nil {
		return err
	}
	defer s.close()

	subjects, err := subjectsFor(s, v.GetStringSlice("client"))
	if err != nil {
		return err
	}
	reports, err := collect(ctx, s, subjects)
	if err != nil {
		return err
	}

	scoring := results.Scoring{DefaultOffset: s.cfg.Offset, Offsets: s.cfg.Offsets}
	now := timeNow()
	var failed []error
	var outcomes []model.Outcome
	w := cmd.OutOrStdout()
	for _, sr := range reports {
		if sr.err != nil {
			failed = append(failed, fmt.Errorf("client %s: %w", sr.subject.ID, sr.err))
			printFailure(ctx, w, sr)
			continue
		}
		doc := export.Build(sr.subject, sr.report, sr.questions, scoring, nil, now)
		if err := printReport(ctx, w, sr.subject, sr.report, doc.Outcome); err != nil {
			return err
		}
		if doc.Outcome != nil {
			outcomes = append(outcomes, *doc.Outcome)
		} else {
			outcomes = append(outcomes, model.Outcome{})
		}
	}
	if len(subjects) > 1 {
		printCohort(w, results.Cohort(outcomes))
	}
	return errors.Join(failed...)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	s, ctx, err := openSession(cmd, v)
	if err != nil {
		return err
	}
	defer s.close()

	var requested []string
	if c := v.GetString("client"); c != "" {
		requested = []string{c}
	}
	subjects, err := subjectsFor(s, requested)
	if err != nil {
		return err
	}
	reports, err := collect(ctx, s, subjects)
	if err != nil {
		return err
	}
	sr := reports[0]
	if sr.err != nil {
		return fmt.Errorf("client %s: %w", sr.subject.ID, sr.err)
	}

	scoring := results.Scoring{DefaultOffset: s.cfg.Offset, Offsets: s.cfg.Offsets}
	doc := export.Build(sr.subject, sr.report, sr.questions, scoring,
		func(val int) string { return appI18n.AnswerLabel(ctx, val) }, timeNow())

	sink, err := export.Open(ctx, v.GetString("output"), export.S3Config{
		Region:          v.GetString("s3-region"),
		Endpoint:        v.GetString("s3-endpoint"),
		AccessKeyID:     v.GetString("s3-access-key"),
		SecretAccessKey: v.GetString("s3-secret-key"),
		PathStyle:       v.GetBool("s3-path-style"),
	})
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	loc, err := export.Write(ctx, sink, doc)
	if err != nil {
		return err
	}
	slog.Info("export written", "client", sr.subject.ID, "sessions", doc.NumSessions, "location", loc)
	return nil
}

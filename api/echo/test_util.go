package echoapi

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/leave"
	"github.com/trezcool/elimu/core/user"
	anchorsvc "github.com/trezcool/elimu/services/anchor"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	notifysvc "github.com/trezcool/elimu/services/notify"
	verifysvc "github.com/trezcool/elimu/services/verify"
	inmemdb "github.com/trezcool/elimu/storage/database/inmem"
)

type testApp struct {
	server  Server
	conf    *core.Config
	usrRepo user.Repository
	attSvc  attendance.ServiceInterface
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	conf := &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "Elimu",
		SecretKey: "test-secret",
		Server: core.ServerConfig{
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Verification: core.VerificationConfig{
			AutoRejectBelow: 30,
			NotifyBelow:     50,
			FastTrackAbove:  90,
			Timeout:         5 * time.Second,
		},
		Anchor: core.AnchorConfig{Enabled: true, Timeout: 5 * time.Second},
	}
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST ", log.LstdFlags), false)
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	verifier := verifysvc.NewDummyService()
	files := filestore.NewMemoryStore()

	usrSvc := user.NewService(conf, usrRepo, emailsvc.NewDummyService(), validate)
	attSvc := attendance.NewService(inmemdb.NewAttendanceRepository(db), usrSvc, logger, validate)
	leaveSvc := leave.NewService(
		conf, inmemdb.NewLeaveRepository(db), usrSvc, attSvc,
		verifier, verifier, anchorsvc.NewLedgerService(), files, notifysvc.NewDummyNotifier(),
		logger, validate,
	)

	server := NewServer(&Options{
		Conf:           conf,
		Logger:         logger,
		DisableReqLogs: true,
		UserSvc:        usrSvc,
		AttendanceSvc:  attSvc,
		LeaveSvc:       leaveSvc,
		FileStore:      files,
		Validate:       validate,
		Translator:     translator,
	})
	return &testApp{server: server, conf: conf, usrRepo: usrRepo, attSvc: attSvc}
}

func (app *testApp) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(app.conf, GetUserClaims(app.conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func (app *testApp) request(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set(echoHeaderContentType, echoMIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

const (
	echoHeaderContentType   = "Content-Type"
	echoMIMEApplicationJSON = "application/json"
)

func marshallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}

func decodeObj(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response failed: %v; body: %s", err, rec.Body.String())
	}
}

func checkCode(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("failed! code = %v; wantCode %v; body: %s", rec.Code, want, rec.Body.String())
	}
}

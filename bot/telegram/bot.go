package telegrambot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/leave"
	"github.com/trezcool/elimu/core/user"
)

const dateLayout = "2006-01-02"

type sessionState int

const (
	stateIdle sessionState = iota
	stateLoginUsername
	stateLoginPassword
	stateCategory
	stateReason
	stateDates
	stateDocument
)

// session tracks an in-progress conversational flow for one chat.
type session struct {
	state    sessionState
	username string
	draft    leave.NewLeaveRequest
}

// Bot is the Telegram channel adapter. Students submit and track leave
// requests over chat; reviewers receive decision prompts with inline
// approve/reject buttons wired to the same service the HTTP API uses.
type Bot struct {
	api      *tgbotapi.BotAPI
	conf     *core.Config
	registry ChatRegistry
	usrSvc   user.ServiceInterface
	leaveSvc leave.ServiceInterface
	files    core.FileStore
	logger   core.Logger
	http     *http.Client

	mut      sync.Mutex
	sessions map[int64]*session
}

func NewBot(
	conf *core.Config,
	registry ChatRegistry,
	usrSvc user.ServiceInterface,
	leaveSvc leave.ServiceInterface,
	files core.FileStore,
	logger core.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(conf.TelegramBotToken)
	if err != nil {
		return nil, errors.Wrap(err, "initializing bot API")
	}
	api.Debug = conf.Debug
	return &Bot{
		api:      api,
		conf:     conf,
		registry: registry,
		usrSvc:   usrSvc,
		leaveSvc: leaveSvc,
		files:    files,
		logger:   logger,
		http:     &http.Client{Timeout: 30 * time.Second},
		sessions: make(map[int64]*session),
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) session(chatID int64) *session {
	b.mut.Lock()
	defer b.mut.Unlock()
	s, ok := b.sessions[chatID]
	if !ok {
		s = &session{}
		b.sessions[chatID] = s
	}
	return s
}

func (b *Bot) resetSession(chatID int64) {
	b.mut.Lock()
	defer b.mut.Unlock()
	delete(b.sessions, chatID)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.resetSession(chatID)
		b.reply(chatID, "Welcome to the "+b.conf.AppName+" bot! 🎓\n\n"+
			"You can use this bot to submit leave requests and get updates on approvals.\n\n"+
			"Please use /login to connect your account.")
	case "help":
		b.reply(chatID,
			b.conf.AppName+" bot commands:\n\n"+
				"/start - Start the bot\n"+
				"/login - Connect your account\n"+
				"/request - Submit a new leave request\n"+
				"/status - Check status of your leave requests\n"+
				"/cancel - Abort the current flow\n"+
				"/help - Show this help message")
	case "login":
		s := b.session(chatID)
		s.state = stateLoginUsername
		b.reply(chatID, "Please enter your username or email:")
	case "request":
		usr, ok := b.contextUser(ctx, chatID)
		if !ok {
			return
		}
		if !usr.IsStudent() {
			b.reply(chatID, "Only students can submit leave requests.")
			return
		}
		s := b.session(chatID)
		s.draft = leave.NewLeaveRequest{}
		s.state = stateCategory
		b.reply(chatID, "What kind of leave is this? ("+strings.Join(leave.Categories, ", ")+")")
	case "status":
		usr, ok := b.contextUser(ctx, chatID)
		if !ok {
			return
		}
		b.sendStatus(ctx, chatID, usr)
	case "cancel":
		b.resetSession(chatID)
		b.reply(chatID, "Cancelled.")
	case "skip":
		s := b.session(chatID)
		if s.state == stateDocument {
			b.submitDraft(ctx, chatID, s)
			return
		}
		b.reply(chatID, "Nothing to skip.")
	default:
		b.reply(chatID, "Unknown command. Use /help to see what I can do.")
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	s := b.session(chatID)

	if msg.Document != nil || len(msg.Photo) > 0 {
		if s.state == stateDocument {
			b.handleDocument(ctx, msg, s)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch s.state {
	case stateLoginUsername:
		s.username = text
		s.state = stateLoginPassword
		b.reply(chatID, "Please enter your password:")
	case stateLoginPassword:
		b.login(ctx, chatID, s, text)
	case stateCategory:
		category := strings.ToLower(text)
		valid := false
		for _, c := range leave.Categories {
			if category == c {
				valid = true
				break
			}
		}
		if !valid {
			b.reply(chatID, "Please pick one of: "+strings.Join(leave.Categories, ", "))
			return
		}
		s.draft.Category = category
		s.state = stateReason
		b.reply(chatID, "What is the reason for your leave?")
	case stateReason:
		s.draft.Reason = text
		s.state = stateDates
		b.reply(chatID, "Which days? Send the range as YYYY-MM-DD to YYYY-MM-DD, or a single date.")
	case stateDates:
		start, end, err := parseDateRange(text)
		if err != nil {
			b.reply(chatID, "I could not read those dates. Send them as YYYY-MM-DD to YYYY-MM-DD.")
			return
		}
		s.draft.StartDate, s.draft.EndDate = start, end
		s.state = stateDocument
		b.reply(chatID, "Please upload a supporting document (PDF or image), or send /skip.")
	default:
		b.reply(chatID, "Use /help to see what I can do.")
	}
}

func (b *Bot) login(ctx context.Context, chatID int64, s *session, pwd string) {
	usr, err := b.usrSvc.Authenticate(ctx, s.username, pwd)
	if err != nil {
		b.resetSession(chatID)
		b.reply(chatID, "Login failed. Please check your credentials and try /login again.")
		return
	}
	if err = b.usrSvc.SetLastLogin(ctx, usr); err != nil {
		b.logger.Error("setting last login", "user", usr.ID, "err", err)
	}
	b.registry.Link(usr.ID, chatID)
	b.resetSession(chatID)
	b.reply(chatID, fmt.Sprintf("Login successful! Welcome, %s.", usr.Name))
}

func (b *Bot) sendStatus(ctx context.Context, chatID int64, usr user.User) {
	lrs, err := b.leaveSvc.StudentRequests(ctx, usr, usr.ID)
	if err != nil {
		b.logger.Error("querying leave requests", "user", usr.ID, "err", err)
		b.reply(chatID, "Failed to get leave requests. Please try again later.")
		return
	}
	if len(lrs) == 0 {
		b.reply(chatID, "You have no leave requests.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Your leave requests:\n\n")
	for i, lr := range lrs {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, strings.Title(lr.Category), lr.Reason)
		fmt.Fprintf(&sb, "   Status: %s\n", lr.Status.Label())
		fmt.Fprintf(&sb, "   Date: %s - %s\n\n",
			lr.StartDate.Format(dateLayout), lr.EndDate.Format(dateLayout))
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message, s *session) {
	chatID := msg.Chat.ID

	var fileID, name string
	switch {
	case msg.Document != nil:
		fileID, name = msg.Document.FileID, msg.Document.FileName
	case len(msg.Photo) > 0:
		// highest resolution variant comes last
		fileID, name = msg.Photo[len(msg.Photo)-1].FileID, "photo.jpg"
	}

	data, err := b.downloadFile(ctx, fileID)
	if err != nil {
		b.logger.Error("downloading telegram file", "file", fileID, "err", err)
		b.reply(chatID, "Error saving document. Please try again.")
		return
	}

	ref, err := b.files.Store(ctx, name, data)
	if err != nil {
		b.logger.Error("storing document", "name", name, "err", err)
		b.reply(chatID, "Error saving document. Please try again.")
		return
	}

	b.reply(chatID, "Document received. Processing...")
	s.draft.DocumentRef = ref
	b.submitDraft(ctx, chatID, s)
}

func (b *Bot) submitDraft(ctx context.Context, chatID int64, s *session) {
	usr, ok := b.contextUser(ctx, chatID)
	if !ok {
		return
	}
	defer b.resetSession(chatID)

	lr, err := b.leaveSvc.Submit(ctx, usr, s.draft)
	if err != nil {
		b.reply(chatID, "Error processing leave request: "+err.Error())
		return
	}
	if lr.Status.IsFinal() {
		b.reply(chatID, "Your leave request was processed: "+lr.Status.Label()+".")
		return
	}
	b.reply(chatID, "Leave request submitted successfully! You will be notified when it is reviewed.")
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	action, requestID, ok := parseCallbackData(cq.Data)
	if !ok {
		b.answerCallback(cq.ID, "Unknown action")
		return
	}

	actorID, ok := b.registry.UserByChat(chatID)
	if !ok {
		b.answerCallback(cq.ID, "Please /login first")
		return
	}
	actor, err := b.usrSvc.GetByID(ctx, actorID)
	if err != nil {
		b.logger.Error("resolving reviewer", "user", actorID, "err", err)
		b.answerCallback(cq.ID, "Something went wrong")
		return
	}

	lr, err := b.leaveSvc.Decide(ctx, actor, requestID, action, "")
	if err != nil {
		b.answerCallback(cq.ID, "Decision failed")
		b.reply(chatID, "Error: "+err.Error())
		return
	}

	if action == core.ActionReject {
		b.answerCallback(cq.ID, "Request rejected!")
	} else {
		b.answerCallback(cq.ID, "Request approved!")
	}
	edit := tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID,
		cq.Message.Text+"\n\nDecision recorded: "+lr.Status.Label()+".")
	if _, err = b.api.Send(edit); err != nil {
		b.logger.Error("editing decision message", "chat", chatID, "err", err)
	}
}

// contextUser resolves the chat's linked account, prompting for /login
// when the chat is unknown.
func (b *Bot) contextUser(ctx context.Context, chatID int64) (user.User, bool) {
	usrID, ok := b.registry.UserByChat(chatID)
	if !ok {
		b.reply(chatID, "Please login first using the /login command.")
		return user.User{}, false
	}
	usr, err := b.usrSvc.GetByID(ctx, usrID)
	if err != nil {
		b.logger.Error("resolving chat user", "user", usrID, "err", err)
		b.registry.Unlink(chatID)
		b.reply(chatID, "Please login again using the /login command.")
		return user.User{}, false
	}
	return usr, true
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, errors.Wrap(err, "getting file URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building download request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "downloading file")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("downloading file: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	return data, errors.Wrap(err, "reading file")
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("sending telegram message", "chat", chatID, "err", err)
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Error("answering callback query", "err", err)
	}
}

func parseCallbackData(data string) (action, requestID string, ok bool) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	switch parts[0] {
	case core.ActionApproveTeacher, core.ActionApproveHod, core.ActionReject:
		return parts[0], parts[1], true
	}
	return "", "", false
}

func parseDateRange(text string) (start, end time.Time, err error) {
	parts := strings.SplitN(strings.ToLower(text), " to ", 2)
	if start, err = time.Parse(dateLayout, strings.TrimSpace(parts[0])); err != nil {
		return
	}
	if len(parts) == 1 {
		return start, start, nil
	}
	end, err = time.Parse(dateLayout, strings.TrimSpace(parts[1]))
	return
}

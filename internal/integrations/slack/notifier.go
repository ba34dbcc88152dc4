// Package slackbot posts operational notices to a Slack channel: circuit
// breaker transitions and the daily flow digest. Messages carry counts and
// state names only, never report content.
package slackbot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"labinsight/internal/domain"
)

const postTimeout = 10 * time.Second

type Notifier struct {
	api     *slack.Client
	channel string
	logger  *logrus.Logger
}

func NewNotifier(token, channel string, httpClient *http.Client, logger *logrus.Logger, opts ...slack.Option) *Notifier {
	if httpClient != nil {
		opts = append([]slack.Option{slack.OptionHTTPClient(httpClient)}, opts...)
	}
	return &Notifier{
		api:     slack.New(token, opts...),
		channel: channel,
		logger:  logger,
	}
}

// BreakerChanged reports a breaker transition. It returns at once; the
// breaker calls it while holding its own lock.
func (n *Notifier) BreakerChanged(name, from, to string) {
	text := fmt.Sprintf(":rotating_light: circuit `%s` changed %s -> %s", name, from, to)
	if to == "closed" {
		text = fmt.Sprintf(":white_check_mark: circuit `%s` recovered (%s -> %s)", name, from, to)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		defer cancel()
		if _, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
			n.logger.WithError(err).WithField("breaker", name).Warn("slack breaker alert failed")
		}
	}()
}

// PostDigest posts per-flow counts for the window starting at since.
func (n *Notifier) PostDigest(ctx context.Context, stats []domain.FlowStats, since time.Time) error {
	title, lines := digestLines(stats, since)
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
	}
	for _, line := range lines {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, line, false, false), nil, nil,
		))
	}

	fallback := title + "\n" + strings.Join(lines, "\n")
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	n.logger.WithFields(logrus.Fields{"channel": n.channel, "flows": len(stats)}).Info("slack digest posted")
	return nil
}

func digestLines(stats []domain.FlowStats, since time.Time) (string, []string) {
	title := fmt.Sprintf("Flow digest since %s", since.Format("Jan 2 15:04"))
	if len(stats) == 0 {
		return title, []string{"No flow runs recorded."}
	}
	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		lines = append(lines, fmt.Sprintf(
			"*%s*: %d runs, %d ok, %d schema violations, %d model errors (%.0f%% failed, avg %.0fms, tokens in/out %d/%d)",
			s.Flow, s.TotalRuns, s.Succeeded, s.SchemaViolations, s.ModelErrors,
			s.FailureRate()*100, s.AvgDurationMS, s.InputTokens, s.OutputTokens,
		))
	}
	return title, lines
}

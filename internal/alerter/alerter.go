package alerter

import (
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/core/model"
	imodel "Go2NetSentry/internal/model"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"
)

// CountsFunc returns the cumulative number of verdicts per reason name.
type CountsFunc func() map[string]uint64

type rule struct {
	config.AlerterRule
	reason model.Reason
}

// Alerter compares the rejections of each check interval against the
// configured rules and sends one consolidated notification per check.
type Alerter struct {
	rules         []rule
	counts        CountsFunc
	notifier      imodel.Notifier
	checkInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup

	mu   sync.Mutex
	last map[string]uint64
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, counts CountsFunc, notifier imodel.Notifier) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}

	rules := make([]rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		reason, ok := model.ParseReason(r.Reason)
		if !ok {
			return nil, fmt.Errorf("alerter rule '%s': unknown reason '%s'", r.Name, r.Reason)
		}
		rules = append(rules, rule{AlerterRule: r, reason: reason})
	}

	return &Alerter{
		rules:         rules,
		counts:        counts,
		notifier:      notifier,
		checkInterval: interval,
		stopChan:      make(chan struct{}),
		last:          counts(),
	}, nil
}

// Start begins the periodic evaluation of alert rules in a new goroutine.
func (a *Alerter) Start() {
	log.Printf("Alerter started with %d rules, checking every %s", len(a.rules), a.checkInterval)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.check()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop ends the evaluation loop and runs one last check.
func (a *Alerter) Stop() {
	log.Println("Stopping Alerter...")
	close(a.stopChan)
	a.wg.Wait()
	a.check()
}

// evaluate returns one message per rule violated since the previous call.
func (a *Alerter) evaluate() []string {
	current := a.counts()

	a.mu.Lock()
	previous := a.last
	a.last = current
	a.mu.Unlock()

	var messages []string
	for _, r := range a.rules {
		name := r.reason.String()
		delta := current[name] - previous[name]
		if current[name] < previous[name] {
			delta = current[name]
		}
		if compare(delta, r.Operator, r.Threshold) {
			messages = append(messages, fmt.Sprintf(
				"<h3>%s</h3><p>%d packets with verdict <b>%s</b> in the last %s (rule: %s %d).</p>",
				html.EscapeString(r.Name), delta, name, a.checkInterval, html.EscapeString(r.Operator), r.Threshold))
		}
	}
	return messages
}

func (a *Alerter) check() {
	messages := a.evaluate()
	if len(messages) == 0 {
		return
	}
	log.Printf("Alerter evaluation completed. %d alert(s) triggered.", len(messages))

	body := "<h1>Go2NetSentry Alert Summary</h1>" +
		"<p>The following alerts were triggered during the last check:</p><hr>" +
		strings.Join(messages, "<hr>")

	if a.notifier == nil {
		return
	}
	subject := fmt.Sprintf("Go2NetSentry Alert Summary (%d Triggered)", len(messages))
	if err := a.notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: Failed to send consolidated alert notification: %v", err)
	} else {
		log.Printf("INFO: Consolidated alert notification sent successfully.")
	}
}

func compare(value uint64, operator string, threshold uint64) bool {
	switch operator {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	default:
		return false
	}
}

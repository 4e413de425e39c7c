package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/adapters/media"
	"github.com/crisjonblvx/stoop/internal/adapters/rtc"
	sig "github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/app/mesh"
	"github.com/crisjonblvx/stoop/internal/config"
	"github.com/crisjonblvx/stoop/internal/core"
	"github.com/crisjonblvx/stoop/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	localID, token, err := fetchToken(ctx, cfg)
	if err != nil {
		return fmt.Errorf("credential fetch: %w", err)
	}

	src := media.NewSource(&media.OggDevice{Path: cfg.AudioFile})
	rtcCfg := rtc.Config(cfg.StunServers)
	sink := media.DrainSink{}

	area, err := pterm.DefaultArea.Start()
	if err != nil {
		return err
	}
	defer area.Stop()

	ctl := mesh.New(
		mesh.Config{
			Room:               domain.RoomID(cfg.Room),
			Local:              domain.User{ID: localID, Username: cfg.Username, Name: cfg.Name},
			ReconnectDelay:     cfg.ReconnectDelay,
			MaxReconnects:      cfg.MaxReconnects,
			NegotiationTimeout: cfg.NegotiationTimeout,
		},
		mesh.Deps{
			Dial: func(ctx context.Context) (mesh.Transport, error) {
				c, err := sig.Dial(ctx, cfg.SignalURL, domain.RoomID(cfg.Room), token)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			NewLink: func(id domain.UserID) (core.Link, error) {
				return rtc.New(id, rtcCfg)
			},
			Media:   src,
			OnTrack: func(id domain.UserID, track *webrtc.TrackRemote) { sink.Play(id, track) },
			OnUpdate: func(state core.RoomState) {
				area.Update(render(state))
			},
		},
	)

	runErr := make(chan error, 1)
	go func() { runErr <- ctl.Run(ctx) }()

	pterm.Info.Printfln("joined room %q as %s | [m]ute toggle, [q]uit", cfg.Room, cfg.Username)

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- strings.TrimSpace(scanner.Text())
		}
		close(input)
	}()

	for {
		select {
		case err := <-runErr:
			return err

		case line, ok := <-input:
			if !ok {
				ctl.Leave()
				return <-runErr
			}
			switch line {
			case "m":
				if err := ctl.ToggleMute(ctx); err != nil {
					if errors.Is(err, domain.ErrPermissionDenied) {
						pterm.Error.Println("microphone access denied")
					} else {
						pterm.Error.Printfln("mute toggle: %v", err)
					}
				}
			case "q":
				ctl.Leave()
				return <-runErr
			}

		case <-ctx.Done():
			ctl.Leave()
			return <-runErr
		}
	}
}

// fetchToken asks the credential endpoint for a short-lived bearer token.
func fetchToken(ctx context.Context, cfg *config.Config) (domain.UserID, string, error) {
	body, err := json.Marshal(map[string]string{
		"username": cfg.Username,
		"name":     cfg.Name,
	})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(cfg.SignalURL, "/")+"/token", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var tok struct {
		Token  string        `json:"token"`
		UserID domain.UserID `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", "", err
	}
	return tok.UserID, tok.Token, nil
}

// render draws the projection as a roster table.
func render(state core.RoomState) string {
	status := pterm.FgRed.Sprint("disconnected")
	if state.Connected {
		status = pterm.FgGreen.Sprint("connected")
	}
	mic := pterm.FgGreen.Sprint("live")
	if state.LocalMuted {
		mic = pterm.FgGray.Sprint("muted")
	}

	data := pterm.TableData{{"participant", "mic", "connection"}}
	for _, p := range state.Participants {
		micState := "live"
		if p.Muted {
			micState = "muted"
		}
		data = append(data, []string{p.Name, micState, p.StateStr})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		table = ""
	}
	return fmt.Sprintf("room %s | signaling %s, mic %s\n%s", state.Room, status, mic, table)
}

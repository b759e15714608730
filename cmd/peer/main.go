package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/auth"
	"github.com/Alexander0x1307376/ultra-chateg/internal/adapters/rtc"
	"github.com/Alexander0x1307376/ultra-chateg/internal/config"
	"github.com/Alexander0x1307376/ultra-chateg/internal/core"
	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/Alexander0x1307376/ultra-chateg/internal/peer"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/api/ws", "signaling endpoint")
	token := flag.String("token", "", "bearer token")
	secret := flag.String("jwt-secret", "", "issue a token locally with this secret instead of -token")
	userID := flag.Int64("user", 1, "user id for a locally issued token")
	name := flag.String("name", "headless", "user name for a locally issued token")
	channel := flag.String("channel", "", "channel id to join")
	stun := flag.String("stun", "stun:stun.l.google.com:19302", "comma separated ICE server urls")
	record := flag.String("record", "", "write inbound opus streams to this directory")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *channel == "" {
		pterm.Error.Println("-channel is required")
		os.Exit(2)
	}

	bearer := *token
	if bearer == "" && *secret != "" {
		user, err := domain.NewUser(domain.UserID(*userID), *name, "")
		if err != nil {
			pterm.Error.Println(err.Error())
			os.Exit(2)
		}
		bearer, err = auth.NewJWTVerifier(*secret).Issue(user, 24*time.Hour)
		if err != nil {
			pterm.Error.Println(err.Error())
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *url, bearer, domain.ChannelID(*channel), iceServers(*stun), *record); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("peer stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, url, token string, channel domain.ChannelID, servers []config.ICEServer, record string) error {
	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}

	client, err := peer.Dial(ctx, url, token)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := peer.Options{
		Factory:  rtc.NewFactory(api, rtc.Configuration(servers)),
		Signaler: client,
		Media:    &peer.SilentAudio{},
	}
	if record != "" {
		opts.Sinks = peer.OggRecorder(record)
	}
	mesh := peer.NewMesh(ctx, opts)
	defer mesh.RemoveAll()

	agent := peer.NewAgent(mesh)
	agent.OnChannel = func(ch domain.ChannelTransfer, ok bool) {
		if !ok {
			pterm.Warning.Printfln("channel %s removed", ch.ID)
			return
		}
		pterm.Info.Printfln("channel %s (%s): %d members, %d scopes", ch.Name, ch.ID, len(ch.Members), len(ch.Scopes))
	}

	off := mesh.Subscribe(render)
	defer off()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				render(mesh.Snapshot())
			}
		}
	}()

	if err := client.WhoAmI(); err != nil {
		return err
	}
	if err := client.Subscribe(channel); err != nil {
		return err
	}
	pterm.Success.Printfln("connected to %s, joining %s", url, channel)

	return client.Run(ctx, agent)
}

func render(s peer.Snapshot) {
	if len(s) == 0 {
		pterm.Info.Println("no peers")
		return
	}
	ids := make([]core.ConnectionID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	data := pterm.TableData{{"Peer", "User", "State", "Streams", "Packets", "Bytes", "Last packet"}}
	for _, id := range ids {
		p := s[id]
		var packets, bytes uint64
		var last time.Time
		for _, st := range p.Streams {
			packets += st.Packets
			bytes += st.Bytes
			if st.LastPacket.After(last) {
				last = st.LastPacket
			}
		}
		lastStr := "-"
		if !last.IsZero() {
			lastStr = time.Since(last).Truncate(time.Millisecond).String() + " ago"
		}
		data = append(data, []string{
			string(id), p.UserID.String(), p.State.String(),
			fmt.Sprint(len(p.Streams)), fmt.Sprint(packets), fmt.Sprint(bytes), lastStr,
		})
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		log.Error().Err(err).Msg("render peers")
		return
	}
	pterm.Println(out)
}

func iceServers(list string) []config.ICEServer {
	var urls []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return []config.ICEServer{{URLs: urls}}
}

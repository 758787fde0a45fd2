package cli

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			out := cmd.OutOrStdout()
			ok := true

			check := func(name string, passed bool, detail string) {
				mark := "ok"
				if !passed {
					mark = "MISSING"
					ok = false
				}
				fmt.Fprintf(out, "%-28s %-8s %s\n", name, mark, detail)
			}

			if _, err := exec.LookPath(cfg.Audio.FFMPEGCommand); err != nil {
				check("ffmpeg", false, "not found on PATH")
			} else {
				check("ffmpeg", true, cfg.Audio.FFMPEGCommand)
			}

			addr := net.JoinHostPort(cfg.ESL.Host, strconv.Itoa(cfg.ESL.Port))
			if conn, err := net.DialTimeout("tcp", addr, 2*time.Second); err != nil {
				check("event socket", false, addr+" unreachable")
			} else {
				_ = conn.Close()
				check("event socket", true, addr)
			}

			check("Deepgram API key", cfg.Providers.Deepgram.APIKey != "", "set DEEPGRAM_API_KEY or add to config")
			check("Gemini API key", cfg.Providers.Gemini.APIKey != "", "set GEMINI_API_KEY or add to config")
			check("ElevenLabs API key", cfg.Providers.ElevenLabs.APIKey != "", "set ELEVENLABS_API_KEY or add to config")
			check("ElevenLabs voice", cfg.Providers.ElevenLabs.VoiceID != "", "set ELEVENLABS_VOICE_ID or add to config")
			check("recordings directory", true, cfg.Recording.Dir)

			if !ok {
				fmt.Fprintln(out, "\nsome prerequisites are missing")
			} else {
				fmt.Fprintln(out, "\nready to make calls")
			}
			return nil
		},
	}
}

package client

import (
	"context"
	"fmt"
	"io"

	"github.com/bosley/flowlab/recorder"
	"github.com/bosley/flowlab/vault"
)

// ListDevices prints the available audio input devices.
func ListDevices(w io.Writer) error {
	devices, err := recorder.ListAudioDevices()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Available audio input devices (pass the ID to -device):")
	fmt.Fprintln(w, renderDevices(devices))
	return nil
}

// renderDevices prints each device under the ID -device accepts.
func renderDevices(devices []recorder.DeviceInfo) string {
	rows := make([][]string, 0, len(devices))
	for _, device := range devices {
		rows = append(rows, []string{
			fmt.Sprintf("%d", device.Index),
			device.Name,
			fmt.Sprintf("%d", device.MaxInputChannels),
			fmt.Sprintf("%.0f", device.DefaultSampleRate),
		})
	}
	return renderTable(
		[]string{"ID", "Name", "Inputs", "Sample Rate"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
	)
}

// ListVault prints the server's Flow Vault.
func ListVault(ctx context.Context, w io.Writer, serverURL string, insecure bool, serverCert, tag string, favorites bool) error {
	httpClient, err := newHTTPClient(insecure, serverCert)
	if err != nil {
		return err
	}

	entries, err := vault.NewClient(serverURL, httpClient).List(ctx, tag, favorites)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "Your Flow Vault is empty.")
		return nil
	}
	fmt.Fprintln(w, renderVault(entries))
	return nil
}

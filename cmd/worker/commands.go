package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/livekit/handler-worker/pkg/channel"
	"github.com/livekit/handler-worker/pkg/config"
	"github.com/livekit/handler-worker/pkg/worker"
	"github.com/livekit/handler-worker/version"
)

const dumpTimeout = 10 * time.Second

type dumpResponse struct {
	ID       uint32       `json:"id"`
	Accepted bool         `json:"accepted"`
	Data     *worker.Dump `json:"data"`
	Error    string       `json:"error"`
	Reason   string       `json:"reason"`
}

func dumpWorker(c *cli.Context) error {
	dump, err := fetchDump(c.String("url"))
	if err != nil {
		return err
	}
	printDump(dump)
	return nil
}

func fetchDump(rawURL string) (*worker.Dump, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}
	q := u.Query()
	q.Set("version", version.Version)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "connect to worker")
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(dumpTimeout)); err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(&channel.Request{ID: 1, Method: worker.MethodDump}); err != nil {
		return nil, errors.Wrap(err, "send dump request")
	}

	if err := conn.SetReadDeadline(time.Now().Add(dumpTimeout)); err != nil {
		return nil, err
	}
	for {
		var res dumpResponse
		if err := conn.ReadJSON(&res); err != nil {
			return nil, errors.Wrap(err, "read dump response")
		}
		if res.ID != 1 {
			continue
		}
		if !res.Accepted {
			return nil, fmt.Errorf("dump rejected: %s: %s", res.Error, res.Reason)
		}
		if res.Data == nil {
			return nil, errors.New("empty dump")
		}
		return res.Data, nil
	}
}

func printDump(dump *worker.Dump) {
	if node := dump.Node; node != nil {
		fmt.Printf("handlers: %d, transceivers: %d, data channels: %d, connections: %d\n",
			node.NumHandlers, node.NumTransceivers, node.NumDataChannels, node.NumConnections)
		fmt.Printf("cpu: %.2f (%d cores), memory: %.2f, load: %.2f %.2f %.2f\n",
			node.CPULoad, node.NumCPUs, node.MemoryLoad,
			node.LoadAvgLast1Min, node.LoadAvgLast5Min, node.LoadAvgLast15Min)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Handler",
		"Signaling",
		"ICE Gathering",
		"ICE Connection",
		"Tracks",
		"Data Channels",
	})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	for _, h := range dump.Handlers {
		table.Append([]string{
			h.HandlerID,
			h.SignalingState,
			h.ICEGatheringState,
			h.ICEConnectionState,
			strconv.Itoa(len(h.TrackIDs)),
			strings.Join(h.DataChannelIDs, ", "),
		})
	}

	table.Render()
}

func printPorts(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	tcpPorts := []string{fmt.Sprintf("%d - orchestrator websocket", conf.Port)}
	if conf.PrometheusPort != 0 {
		tcpPorts = append(tcpPorts, fmt.Sprintf("%d - prometheus", conf.PrometheusPort))
	}

	udpPorts := make([]string, 0)
	if conf.RTC.ICEPortRangeStart != 0 && conf.RTC.ICEPortRangeEnd != 0 {
		udpPorts = append(udpPorts, fmt.Sprintf("%d-%d - ICE/UDP range", conf.RTC.ICEPortRangeStart, conf.RTC.ICEPortRangeEnd))
	} else {
		udpPorts = append(udpPorts, "ephemeral - ICE/UDP")
	}

	fmt.Println("TCP Ports")
	for _, p := range tcpPorts {
		fmt.Println(p)
	}
	fmt.Println("UDP Ports")
	for _, p := range udpPorts {
		fmt.Println(p)
	}
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}

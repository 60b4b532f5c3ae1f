package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"

	"github.com/RoanBrand/mqttconn"
	"github.com/RoanBrand/mqttconn/config"
	"github.com/RoanBrand/mqttconn/internal/frame"
)

// program runs a single transport connection and logs every inbound packet
// it decodes and the final termination reason, as an OS service the same way
// the teacher's broker did — just with one client connection instead of a
// listener.
type program struct {
	handle     *mqttconn.Handle
	configFlag string
	execDir    string
	cancel     context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	cfgPath := p.configFlag
	if cfgPath == "" {
		toTry := filepath.Join(p.execDir, "config.json")
		if fileExists(toTry) {
			cfgPath = toTry
		}
	}

	var cfg config.Config
	if cfgPath != "" {
		c, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return err
		}
		cfg = *c
		log.Infoln("Using config file:", cfgPath)
	} else {
		cfg = config.Config{Address: "127.0.0.1:1883", MaxReconnectAttempts: 10, ReconnectIntervalMS: 2000}
		log.Infoln("No config file specified or found. Using defaults:", cfg.Address)
	}

	h, err := mqttconn.NewTransport(cfg)
	if err != nil {
		return err
	}
	p.handle = h

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.run(ctx)
	return nil
}

func (p *program) run(ctx context.Context) {
	p.handle.Connect(ctx)

	go p.watchInbound(ctx)
	go p.pingLoop(ctx)

	reason := <-p.handle.Terminated()
	log.WithField("reason", reason).Info("mqttconn-demo: transport terminated")
}

// watchInbound drains Inbound, feeds it through a decoder, and logs every
// packet it sees — standing in for the session layer this transport is
// explicitly not responsible for.
func (p *program) watchInbound(ctx context.Context) {
	dec := frame.NewDecoder(0)
	for {
		cell, err := p.handle.Inbound().ReadContext(ctx)
		if err != nil {
			return
		}
		_, packets, err := dec.Feed(cell.Bytes())
		if err != nil {
			log.WithError(err).Warn("mqttconn-demo: malformed packet, closing")
			p.handle.Close()
			return
		}
		for _, pkt := range packets {
			log.WithField("type", pkt.Type()).Debug("mqttconn-demo: received packet")
		}
	}
}

// pingLoop sends a bare PINGREQ on a fixed interval whenever the transport
// reports Connected, the minimum viable proof that Outbound() round-trips
// bytes end to end.
func (p *program) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.handle.Status() != mqttconn.StatusConnected {
				continue
			}
			entries := []frame.Entry{{Packet: frame.Pingreq{}, Size: 0}}
			cell := p.handle.Pool().Get()
			n, err := frame.EncodeMany(entries, cell.Buf)
			if err != nil {
				log.WithError(err).Warn("mqttconn-demo: encoding PINGREQ")
				p.handle.Pool().Release(cell)
				continue
			}
			cell.Length = n
			if err := p.handle.Outbound().Write(cell); err != nil {
				p.handle.Pool().Release(cell)
			}
		}
	}
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.handle != nil {
		p.handle.Close()
	}
	return nil
}

func main() {
	svcFlag := flag.String("service", "", "Control the system service.")
	cnfFlag := flag.String("c", "", "Path of config file.")
	flag.Parse()

	ePath, err := os.Executable()
	if err != nil {
		log.Fatal(err)
	}
	eDir, _ := filepath.Split(ePath)

	if service.Interactive() {
		log.SetLevel(log.DebugLevel)
	} else {
		f, err := os.OpenFile(filepath.Join(eDir, "mqttconn-demo.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		log.SetOutput(f)
	}

	prg := program{configFlag: *cnfFlag, execDir: eDir}
	svcConfig := service.Config{
		Name:        "mqttconn-demo",
		DisplayName: "mqttconn demo client",
		Description: "Demo MQTT client transport connection. See https://github.com/RoanBrand/mqttconn",
	}

	s, err := service.New(&prg, &svcConfig)
	if err != nil {
		log.Fatal(err)
	}

	if len(*svcFlag) != 0 {
		err := service.Control(s, *svcFlag)
		if err != nil {
			log.Printf("Valid actions: %q\n", service.ControlAction)
			log.Fatal(err)
		}
		return
	}

	if err := s.Run(); err != nil {
		log.Fatal(err)
	}
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return !info.IsDir()
}

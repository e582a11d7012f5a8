// Package sh provides the interactive shell of the dongle.
package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/etee.go/pkg/config"
	"github.com/robotalks/etee.go/pkg/etee"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell  *ishell.Shell
	Config *config.Config
	// Open opens the transport, the configured serial port by default.
	Open func(*config.Config) (io.ReadWriter, error)
	Ctrl *etee.Controller
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	port       string

	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&SendCmd,
		&StartCmd,
		&StopCmd,
		&VersionsCmd,
		&OffsetsCmd,
		&PoseCmd,
		&GetCmd,
		&AbsoluteCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&port, "port", "", "Serial port of the dongle, overrides the config.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *config.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
		Open:   openPort,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

func openPort(conf *config.Config) (io.ReadWriter, error) {
	return conf.Opener()()
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Ctrl == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect opens the dongle and starts the data loop.
func (s *Shell) Connect() error {
	s.Disconnect()
	ctrl, err := s.Config.NewController()
	if err != nil {
		return err
	}
	if err = ctrl.ConnectWith(func() (io.ReadWriter, error) { return s.Open(s.Config) }); err != nil {
		return err
	}
	if err = ctrl.Start(); err != nil {
		ctrl.Disconnect()
		return err
	}
	ctrl.AddEventHandler(etee.HandleEventFunc(func(ev etee.Event, hand etee.Hand) {
		if ev != etee.HandReceived {
			glog.V(1).Infof("%s %s", hand, ev)
		}
	}))
	s.Ctrl = ctrl
	s.Shell.SetPrompt(fmt.Sprintf("[%s] > ", s.Config.Serial.Name))
	return nil
}

// Disconnect disconnects the dongle.
func (s *Shell) Disconnect() {
	if s.Ctrl != nil {
		s.Ctrl.Disconnect()
		s.Ctrl = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Print prints v as JSON in JSON mode, or text otherwise.
func (s *Shell) Print(c *ishell.Context, v interface{}, text string) {
	if s.OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.Serial.Name)
		}
		if err := s.Connect(); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.Serial.Name, err)
		}
		defer s.Disconnect()
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	conf, _, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if port != "" {
		conf.Serial.Name = port
	}
	New(conf).WithAutoConnect(true).Run(flag.Args()...)
}

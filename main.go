package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"

	"github.com/CodedInternet/dddrive/comms"
	"github.com/CodedInternet/dddrive/journal"
	"github.com/CodedInternet/dddrive/onboard"
)

const SHUTDOWN_GRACE = 2 * time.Second

type EnvConfig struct {
	JWT_ISSUER string `env:"RESIN_DEVICE_UUID" envDefault:"DEV"`
	JWT_SECRET string `env:"JWT_SECRET"`
	RESIN      bool   `env:"RESIN" envDefault:"0"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	SRCDIR     string `env:"SRCDIR" envDefault:"."`
	HTMLDIR    string `env:"HTMLDIR" envDefault:"./frontend/dist/"`

	DB          *storm.DB
	Drive       onboard.Drive
	DriveConfig onboard.DriveConfig
	Kinematics  *onboard.DiffKinematics
	Conductor   *comms.Conductor
	Journal     *journal.Journal
	Simulated   bool

	jwtSecret []byte
}

var (
	ENV *EnvConfig
)

func init() {
	// Load main config
	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		panic(err)
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "dddrive"
	app.Usage = "closed loop speed control for a two wheel differential drive"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "sim",
			Usage: "run against simulated motors",
		},
		cli.StringFlag{
			Name:  "port",
			Value: "0.0.0.0:80",
			Usage: "ip:port to listen on",
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "drive tuning file, defaults to drive_config.yaml in SRCDIR or /data on resin",
		},
		cli.BoolFlag{
			Name:  "no-shell",
			Usage: "do not start the interactive shell",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("dddrive stopped")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if ENV.DEBUG {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// json on the device, readable output everywhere else
	if !ENV.RESIN {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
	}
}

func configFilename(c *cli.Context) (string, error) {
	if name := c.GlobalString("config"); name != "" {
		return name, nil
	}
	if ENV.RESIN {
		return "/data/drive_config.yaml", nil
	}
	return filepath.Abs(filepath.Join(ENV.SRCDIR, "drive_config.yaml"))
}

func dbFilename() string {
	// get db path, this depends on if we are running on a resin device
	if ENV.RESIN {
		return "/data/live.db"
	}

	dbFile, _ := filepath.Abs("./tmp/dev.db")
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.Mkdir(dir, 0755)
	}
	return dbFile
}

func run(c *cli.Context) error {
	setupLogging()

	filename, err := configFilename(c)
	if err != nil {
		return err
	}
	config, err := onboard.LoadDriveConfig(filename)
	if err != nil {
		return err
	}

	ENV.Simulated = c.GlobalBool("sim")
	if ENV.Simulated {
		config.Driver = onboard.DRIVER_SIM
	}
	ENV.DriveConfig = config
	log.Info().Str("config", filename).Str("driver", config.Driver).Msg("drive config loaded")

	ENV.DB, err = openDb(dbFilename())
	if err != nil {
		return err
	}
	defer ENV.DB.Close() // close database when finished

	ENV.Journal, err = journal.New(ENV.DB)
	if err != nil {
		return err
	}

	drive, closeDrive, err := onboard.OpenDrive(config, nil)
	if err != nil {
		return fmt.Errorf("unable to initialize drive: %v", err)
	}
	defer closeDrive()

	ENV.Drive = drive
	ENV.Kinematics = onboard.NewDiffKinematics(config.TrackCounts)
	ENV.Conductor = comms.NewConductor(drive, ENV.Kinematics)

	if err := onboard.LockMemory(); err != nil {
		log.Warn().Err(err).Msg("unable to lock memory, control loop may be preempted by paging")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go ENV.Journal.Drain(ctx, drive.Events())
	go ENV.Conductor.UpdateClients(ctx)

	bridge, err := comms.NewMQTTBridge(ENV.Conductor)
	switch err {
	case nil:
		if err := bridge.Connect(); err != nil {
			log.Error().Err(err).Msg("unable to connect to mqtt broker")
		}
		go bridge.Run(ctx)
	case comms.ERR_MQTT_DISABLED:
		log.Debug().Msg(err.Error())
	default:
		return err
	}

	if !c.GlobalBool("no-shell") {
		shell := newShell(drive)
		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	server := &http.Server{
		Addr:    c.GlobalString("port"),
		Handler: NewRouter(),
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		serverErr <- server.ListenAndServe()
	}()

	driveErr := make(chan error, 1)
	go func() {
		driveErr <- drive.Run(ctx)
	}()

	select {
	case err = <-driveErr:
		// the loop only ends on its own when output has halted
	case err = <-serverErr:
		cancel()
		<-driveErr
	case <-ctx.Done():
		err = <-driveErr
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), SHUTDOWN_GRACE)
	defer done()
	server.Shutdown(shutdownCtx)

	return err
}

// NewRouter builds the http surface: the control page protocol, the JSON api and
// the telemetry stream.
func NewRouter() chi.Router {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	production := ENV.RESIN && !ENV.DEBUG
	if !production {
		log.Warn().Msg("Running in debug mode. Authentication disabled.")
	}

	// stopping and reading never need a token
	r.Get("/stop", StopHandler)
	r.Get("/telemetry", TelemetryHandler)
	r.Group(func(r chi.Router) {
		if production {
			r.Use(ValidateJWT, RequireDriver)
		}
		r.Get("/cmd", CmdHandler)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", Login)

		r.Group(func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)
			r.Get("/config", ConfigHandler)
			r.Get("/events", EventsHandler)

			r.With(RequireDriver).Post("/drive/cmd", DriveCmd)
			r.With(RequireDriver).Post("/drive/twist", DriveTwist)
			r.Get("/drive/telemetry", TelemetryHandler)
			r.Get("/drive/telemetry/{channel}", DriveChannelTelemetry)
		})

		r.Post("/drive/stop", DriveStop)
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if production {
			// stream clients may send commands too
			r.Use(ValidateJWT, RequireDriver)
		}

		r.Get("/telemetry", StreamHandler)
	})

	// add static base routes
	FileServer(r, "/", http.Dir(ENV.HTMLDIR))

	return r
}

func newShell(drive *onboard.DiffDrive) *ishell.Shell {
	shell := ishell.New()
	shell.Println("dddrive development shell")
	shell.ShowPrompt(true)

	shell.AddCmd(&ishell.Cmd{
		Name: "createoperator",
		Help: "createoperator <email> <password> [driver|observer]",
		Func: func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true) // yes, revert when done.

			// get email
			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			// get password
			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			var role string
			if len(c.Args) >= 3 {
				role = c.Args[2]
			}

			operator, err := NewOperator(email, password, role)
			if err != nil {
				c.Err(err)
				return
			}
			if err := ENV.DB.Save(operator); err != nil {
				c.Err(err)
				return
			}

			c.Printf("Operator created as %s\n", operator.Role)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "cmd",
		Help: "cmd <left> <right>  setpoints in counts/s",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Err(fmt.Errorf("usage: cmd <left> <right>"))
				return
			}
			left, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			right, err := strconv.Atoi(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}

			ack, err := drive.Cmd(left, right)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("OK L=%d R=%d seq=%d\n", ack.Left, ack.Right, ack.Seq)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stop",
		Help: "stop both wheels",
		Func: func(c *ishell.Context) {
			ack := drive.Stop()
			c.Printf("STOPPED seq=%d\n", ack.Seq)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "twist",
		Help: "twist <linear counts/s> <angular rad/s>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 2 {
				c.Err(fmt.Errorf("usage: twist <linear> <angular>"))
				return
			}
			linear, err := strconv.ParseFloat(c.Args[0], 64)
			if err != nil {
				c.Err(err)
				return
			}
			angular, err := strconv.ParseFloat(c.Args[1], 64)
			if err != nil {
				c.Err(err)
				return
			}

			left, right := ENV.Kinematics.WheelSetpoints(onboard.Twist{Linear: linear, Angular: angular})
			if _, err := drive.Cmd(left, right); err != nil {
				c.Err(err)
				return
			}
			c.Printf("OK L=%d R=%d\n", left, right)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "telemetry",
		Help: "print the latest telemetry snapshot",
		Func: func(c *ishell.Context) {
			s := drive.Telemetry()
			c.Printf("cycle %d at %s\n", s.Cycle, s.SampledAt.Format("15:04:05.000"))
			for _, ch := range onboard.Channels {
				t := s.Channel(ch)
				c.Printf("%s  %-7s sp=%5d eff=%5d cur=%8.1f out=%+.3f %s %.3f fault=%v\n",
					ch, t.State, t.Setpoint, t.Effective, t.MeasuredVelocity, t.Output, t.Direction, t.Duty, t.SensorFault)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "events",
		Help: "events [n]  most recent journal entries",
		Func: func(c *ishell.Context) {
			var raw string
			if len(c.Args) == 1 {
				raw = c.Args[0]
			}
			n, err := parseLimit(raw, 20)
			if err != nil {
				c.Err(err)
				return
			}
			entries, err := ENV.Journal.Recent(n)
			if err != nil {
				c.Err(err)
				return
			}
			for _, e := range entries {
				c.Printf("%s %-12s %s\n", e.At.Format("15:04:05.000"), e.Kind, describeEntry(e))
			}
			if dropped := drive.DroppedEvents(); dropped > 0 {
				c.Printf("%d events dropped\n", dropped)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "config",
		Help: "print the active drive config",
		Func: func(c *ishell.Context) {
			yml, err := yaml.Marshal(drive.Config())
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(string(yml))
		},
	})

	return shell
}

func describeEntry(e journal.Entry) string {
	switch onboard.EventKind(e.Kind) {
	case onboard.EventCommand:
		return fmt.Sprintf("L=%d R=%d seq=%d", e.Left, e.Right, e.Seq)
	case onboard.EventTransition:
		return fmt.Sprintf("%s %s -> %s", e.Channel, e.From, e.To)
	case onboard.EventStop:
		return fmt.Sprintf("seq=%d", e.Seq)
	default:
		return strings.TrimSpace(e.Channel + " " + e.Detail)
	}
}

func openDb(dbFile string) (db *storm.DB, err error) {
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&Operator{}); err != nil {
		return nil, err
	}

	return
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}

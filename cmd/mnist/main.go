// Command mnist trains a fully-connected digit classifier on the MNIST
// dataset with mini-batch stochastic gradient descent.
//
// To train: `go run ./cmd/mnist train --data-file=cmd/mnist/data/mnist.npz`
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime/pprof"
	"time"

	"github.com/ahmedtd/digits/toolbox"
	"github.com/google/subcommands"
	"github.com/sbinet/npyio/npz"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&TrainCommand{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

type TrainCommand struct {
	dataFile string

	epochs        int
	miniBatchSize int
	learningRate  float64
	hiddenSize    int
	seed          int64

	cpuProfileFile string
}

var _ subcommands.Command = (*TrainCommand)(nil)

func (*TrainCommand) Name() string {
	return "train"
}

func (*TrainCommand) Synopsis() string {
	return "Train the model"
}

func (*TrainCommand) Usage() string {
	return ``
}

func (c *TrainCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dataFile, "data-file", "mnist.npz", "Path to the mnist.npz input file")

	f.IntVar(&c.epochs, "epochs", 30, "Number of training epochs")
	f.IntVar(&c.miniBatchSize, "mini-batch-size", 10, "Samples per SGD mini-batch")
	f.Float64Var(&c.learningRate, "learning-rate", 3.0, "SGD learning rate")
	f.IntVar(&c.hiddenSize, "hidden-size", 30, "Width of the hidden layer")
	f.Int64Var(&c.seed, "seed", 12345, "Seed for weight initialization and epoch shuffling")

	f.StringVar(&c.cpuProfileFile, "cpu-profile", "", "Write a CPU profile")
}

func (c *TrainCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *TrainCommand) executeErr(ctx context.Context) error {
	if c.cpuProfileFile != "" {
		f, err := os.Create(c.cpuProfileFile)
		if err != nil {
			return fmt.Errorf("while creating CPU profile file: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("while starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	training, test, err := loadMNIST(c.dataFile)
	if err != nil {
		return fmt.Errorf("while loading MNIST data set: %w", err)
	}

	log.Printf("Data loaded: %d training samples, %d test samples", len(training), len(test))

	r := rand.New(rand.NewSource(c.seed))
	net := toolbox.MakeNetwork(r, 28*28, c.hiddenSize, 10)

	start := time.Now()
	net.SGD(r, training, c.epochs, c.miniBatchSize, float32(c.learningRate), test)
	log.Printf("Training finished after %.1fs", time.Since(start).Seconds())

	return nil
}

func loadMNIST(path string) (training []toolbox.Sample, test []toolbox.TestSample, err error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("while opening mnist data file: %w", err)
	}
	defer r.Close()

	// The MNIST data set is of 28x28 uint8 images.  Inputs are scaled
	// to [0, 1] column vectors; training labels become one-hot targets,
	// test labels stay integer class indices.

	xTrain, err := loadImages(r, "x_train.npy")
	if err != nil {
		return nil, nil, fmt.Errorf("while reading x_train.npy: %w", err)
	}

	yTrain, err := loadLabels(r, "y_train.npy")
	if err != nil {
		return nil, nil, fmt.Errorf("while reading y_train.npy: %w", err)
	}

	xTest, err := loadImages(r, "x_test.npy")
	if err != nil {
		return nil, nil, fmt.Errorf("while reading x_test.npy: %w", err)
	}

	yTest, err := loadLabels(r, "y_test.npy")
	if err != nil {
		return nil, nil, fmt.Errorf("while reading y_test.npy: %w", err)
	}

	if len(xTrain) != len(yTrain) || len(xTest) != len(yTest) {
		return nil, nil, fmt.Errorf("image/label count mismatch: %d/%d train, %d/%d test",
			len(xTrain), len(yTrain), len(xTest), len(yTest))
	}

	training = make([]toolbox.Sample, len(xTrain))
	for k := range xTrain {
		training[k] = toolbox.Sample{X: xTrain[k], Y: toolbox.OneHot(10, yTrain[k])}
	}

	test = make([]toolbox.TestSample, len(xTest))
	for k := range xTest {
		test[k] = toolbox.TestSample{X: xTest[k], Label: yTest[k]}
	}

	return training, test, nil
}

func loadImages(r *npz.Reader, name string) ([]*toolbox.AF32, error) {
	header := r.Header(name)
	if len(header.Descr.Shape) != 3 {
		return nil, fmt.Errorf("expected 3-axis image array, got shape %v", header.Descr.Shape)
	}

	var raw []uint8
	if err := r.Read(name, &raw); err != nil {
		return nil, fmt.Errorf("while reading uint8 array: %w", err)
	}

	count := header.Descr.Shape[0]
	pixels := header.Descr.Shape[1] * header.Descr.Shape[2]

	images := make([]*toolbox.AF32, count)
	for k := 0; k < count; k++ {
		x := toolbox.MakeAF32(pixels, 1)
		for i := 0; i < pixels; i++ {
			x.V[i] = float32(raw[k*pixels+i]) / float32(255)
		}
		images[k] = x
	}

	return images, nil
}

func loadLabels(r *npz.Reader, name string) ([]int, error) {
	var raw []uint8
	if err := r.Read(name, &raw); err != nil {
		return nil, fmt.Errorf("while reading uint8 array: %w", err)
	}

	labels := make([]int, len(raw))
	for i := range raw {
		labels[i] = int(raw[i])
	}

	return labels, nil
}

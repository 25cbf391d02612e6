package gnms

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/trajopt/internal/cost"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/linearize"
)

var _ = Describe("Solver lifecycle", func() {
	var (
		ctx    context.Context
		solver *Solver
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		solver, err = New(scalarProblem(), scalarSettings())
		Expect(err).NotTo(HaveOccurred())
		ok, err := solver.InitializeWithRollout(ctx, zeroControls(solver.K(), 1))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		_, err = solver.RunIteration(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	It("keeps the iterate when the Jacobian provider changes", func() {
		Expect(solver.ChangeLinearSystem(linearize.NewNumerical(scalarProblem().System, 1e-6))).To(Succeed())
		Expect(solver.Iteration()).To(Equal(1))

		_, err := solver.RunIteration(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(solver.Diagnostics().Rollout).To(BeFalse())
		Expect(solver.Diagnostics().TotalCost).To(BeNumerically("~", scalarRiccatiCost(1, 0.1, 10), 1e-6))
	})

	It("rolls out again after the cost changes", func() {
		heavier := cost.NewDiagonal([]float64{10}, []float64{1}, []float64{1}, nil, nil, nil)
		Expect(solver.ChangeCostFunction(heavier)).To(Succeed())
		Expect(solver.Iteration()).To(Equal(0))

		_, err := solver.RunIteration(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(solver.Diagnostics().Rollout).To(BeTrue())
		Expect(solver.Diagnostics().Iteration).To(Equal(0))
	})

	It("rolls the stored policy out from a new initial state", func() {
		Expect(solver.ChangeInitialState(dynamo.State{-2})).To(Succeed())
		Expect(solver.ChangeInitialState(dynamo.State{1, 2})).To(MatchError(dynamo.ErrInputShape))

		_, err := solver.RunIteration(ctx)
		Expect(err).NotTo(HaveOccurred())
		d := solver.Diagnostics()
		Expect(d.Rollout).To(BeTrue())
		Expect(d.DefectNorm).To(BeNumerically("~", 0, 1e-12))
		Expect(solver.Solution().States[0]).To(Equal(dynamo.State{-2}))
	})

	It("rejects nil collaborators", func() {
		Expect(solver.ChangeCostFunction(nil)).To(MatchError(dynamo.ErrConfiguration))
		Expect(solver.ChangeLinearSystem(nil)).To(MatchError(dynamo.ErrConfiguration))
	})

	It("reports stage start times for the controls", func() {
		ct := solver.ControlTrajectory()
		Expect(ct.Controls).To(HaveLen(10))
		Expect(ct.Times).To(HaveLen(10))
		Expect(ct.Times[0]).To(Equal(0.0))
		Expect(ct.Times[9]).To(BeNumerically("~", 0.9, 1e-12))
	})

	DescribeTable("reaches the same optimum under either regularization",
		func(policy Regularization, eps float64) {
			s := scalarSettings()
			s.Regularization = policy
			s.Epsilon = eps
			s.MaxIterations = 3
			Expect(solver.Configure(s)).To(Succeed())

			ok, err := solver.Solve(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(solver.Cost()).To(BeNumerically("~", scalarRiccatiCost(1, 0.1, 10), 1e-9))
		},
		Entry("fixed correction", FixedCorrection, 0.0),
		Entry("eigenvalue clipping", EigenClipping, 1e-8),
	)
})

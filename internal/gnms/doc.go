// Package gnms implements Gauss-Newton multiple shooting (GNMS) trajectory
// optimization.
//
// The solver keeps K control stages and K+1 state stages. Every iteration
// linearizes the dynamics and quadratizes the cost around the stored
// trajectory (one unit of parallel work per stage), refreshes the shots and
// their defects, runs a regularized Riccati recursion backward in time and
// applies the resulting correction. The result is a locally optimal
// trajectory together with time-varying feedback gains:
//
//	u_k = u_ff_k + L_k (x_k − x_ref_k)
//
// # Usage
//
//	solver, err := gnms.New(gnms.Problem{
//	    X0:      dynamo.State{math.Pi, 0},
//	    Horizon: 3,
//	    System:  physics.NewPendulum(),
//	    Cost:    cost.NewDiagonal(q, r, qf, target, nil, nil),
//	}, gnms.DefaultSettings())
//	if err != nil {
//	    return err
//	}
//	if _, err := solver.InitializeWithRollout(ctx, zeros); err != nil {
//	    return err
//	}
//	ok, err := solver.Solve(ctx)
//
// # Errors
//
// Configuration and input-shape problems surface as errors wrapping
// dynamo.ErrConfiguration and dynamo.ErrInputShape. Divergence and failed
// factorizations end Solve with a false result and leave the last good
// iterate readable.
package gnms

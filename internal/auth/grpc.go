// ABOUTME: gRPC interceptors applying authentication and authorization to calls
// ABOUTME: Reads the authorization metadata key and treats each call as POST <full method>

package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor returns a gRPC unary interceptor that authenticates and
// authorizes requests against policy.
func (a *Authenticator) UnaryInterceptor(policy *Policy) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := a.authorizeCall(ctx, policy, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates and
// authorizes requests against policy.
func (a *Authenticator) StreamInterceptor(policy *Policy) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := a.authorizeCall(ss.Context(), policy, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (a *Authenticator) authorizeCall(ctx context.Context, policy *Policy, fullMethod string) (context.Context, error) {
	id := FromContext(ctx)
	if id == nil {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			ctx = withRemoteAddr(ctx, p.Addr.String())
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}

		var err error
		id, err = a.Authenticate(ctx, fullMethod, header)
		if err != nil {
			a.logger.Error("authentication failed", "method", fullMethod, "error", err)
			return nil, status.Error(codes.Internal, "internal error")
		}
		if id != nil {
			ctx = WithIdentity(ctx, id)
		}
	}

	d := policy.Decide(http.MethodPost, fullMethod, id)
	if d.Permit {
		return ctx, nil
	}

	a.logger.Warn("access denied", "method", fullMethod, "rule", d.Rule, "reason", d.Reason)
	if StatusFor(d.Reason) == http.StatusForbidden {
		return nil, status.Error(codes.PermissionDenied, "access denied")
	}
	return nil, status.Error(codes.Unauthenticated, "authentication required")
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context with identity info.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
